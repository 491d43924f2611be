// Package severity turns reported symptoms into an urgency tier, a 0-10
// severity score, the matched red flags and a ranked list of candidate
// conditions. Classification is a pure function of its input and the rule
// set it was built with.
package severity

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nidaan/triage/internal/domain/rules"
)

// Input is what the classifier looks at.
type Input struct {
	Symptoms []string `json:"symptoms"`
	Detail   string   `json:"symptom_details,omitempty"`
	// Hint is the patient's own severity statement, usually "1".."10".
	Hint string `json:"severity,omitempty"`
}

// Condition is a candidate condition with its match strength in [0,1].
type Condition struct {
	Name  string     `json:"name"`
	Match float64    `json:"match_score"`
	Tier  rules.Tier `json:"urgency"`
	Tests []string   `json:"recommended_tests,omitempty"`
}

// Assessment is the classifier output. It is never mutated after Assess
// returns.
type Assessment struct {
	Tier         rules.Tier  `json:"urgency"`
	Score        int         `json:"severity_score"`
	RedFlags     []string    `json:"red_flags"`
	Confidence   float64     `json:"confidence"`
	Conditions   []Condition `json:"possible_conditions"`
	Inconclusive bool        `json:"inconclusive"`
}

// HasRedFlags reports whether any red flag matched.
func (a Assessment) HasRedFlags() bool { return len(a.RedFlags) > 0 }

// TopConditions returns the names of at most n candidate conditions.
func (a Assessment) TopConditions(n int) []string {
	out := make([]string, 0, n)
	for i, c := range a.Conditions {
		if i == n {
			break
		}
		out = append(out, c.Name)
	}
	return out
}

const maxConditions = 5

var defaultScores = map[rules.Tier]int{
	rules.Critical: 10,
	rules.High:     8,
	rules.Medium:   5,
	rules.Low:      3,
}

var firstInt = regexp.MustCompile(`\d+`)

// Classifier evaluates a rules.Set against symptom input.
type Classifier struct {
	rules *rules.Set
}

// NewClassifier builds a classifier bound to the given rule set.
func NewClassifier(rs *rules.Set) *Classifier {
	return &Classifier{rules: rs}
}

// Rules exposes the rule set for components that share its tables.
func (c *Classifier) Rules() *rules.Set { return c.rules }

// Assess classifies the input.
func (c *Classifier) Assess(in Input) Assessment {
	hint, hasHint := parseHint(in.Hint)

	parts := append([]string{}, in.Symptoms...)
	parts = append(parts, in.Detail)
	if !hasHint {
		parts = append(parts, in.Hint)
	}
	text := rules.Text(parts...)

	var flags []string
	phraseTier := rules.Low
	for _, rf := range c.rules.MatchRedFlags(text) {
		flags = appendUnique(flags, rf.Phrase)
		phraseTier = rules.Max(phraseTier, rf.Tier)
	}

	intensityTier, intensityHit := c.intensity(text)

	hintTier := rules.Low
	if hasHint {
		hintTier = bucket(hint)
	}

	tier := rules.Max(phraseTier, intensityTier, hintTier)

	br := c.rules.Breathing
	if rules.ContainsAny(text, br.Terms) && rules.ContainsAny(text, br.Distress) {
		tier = rules.Max(tier, rules.High)
		flags = appendUnique(flags, br.Flag)
	}

	routine := rules.Count(text, c.rules.Intensity.Routine)
	if tier == rules.Medium && len(flags) == 0 && routine >= c.rules.Intensity.RoutineThreshold {
		tier = rules.Low
	}

	conditions := c.conditions(text)

	score := defaultScores[tier]
	if hasHint {
		score = hint
	}

	inconclusive := len(flags) == 0 && !intensityHit && !hasHint && len(conditions) == 0

	return Assessment{
		Tier:         tier,
		Score:        score,
		RedFlags:     flags,
		Confidence:   confidence(inconclusive, len(flags), hasHint, conditions),
		Conditions:   conditions,
		Inconclusive: inconclusive,
	}
}

func (c *Classifier) intensity(text string) (rules.Tier, bool) {
	iv := c.rules.Intensity
	switch {
	case rules.ContainsAny(text, iv.Strong):
		return rules.High, true
	case rules.ContainsAny(text, iv.Moderate):
		return rules.Medium, true
	case iv.UrgentThreshold > 0 && rules.Count(text, iv.Urgent) >= iv.UrgentThreshold:
		return rules.Medium, true
	}
	return rules.Low, false
}

func (c *Classifier) conditions(text string) []Condition {
	var out []Condition
	for _, row := range c.rules.Conditions {
		matched := rules.Count(text, row.Keywords)
		if matched < 2 {
			continue
		}
		strength := float64(matched) / float64(len(row.Keywords))
		for _, name := range row.Names {
			out = append(out, Condition{Name: name, Match: round2(strength), Tier: row.Tier, Tests: row.Tests})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Match > out[j].Match })
	if len(out) > maxConditions {
		out = out[:maxConditions]
	}
	return out
}

func confidence(inconclusive bool, flags int, hint bool, conds []Condition) float64 {
	if inconclusive {
		return 0.3
	}
	c := 0.5 + 0.1*float64(flags)
	if hint {
		c += 0.1
	}
	if len(conds) > 0 {
		c = math.Max(c, conds[0].Match+0.3)
	}
	return round2(math.Min(c, 0.95))
}

// parseHint extracts the first integer from a severity statement and clamps
// it to 0..10.
func parseHint(s string) (int, bool) {
	m := firstInt.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	if n > 10 {
		n = 10
	}
	return n, true
}

func bucket(score int) rules.Tier {
	switch {
	case score >= 7:
		return rules.High
	case score >= 4:
		return rules.Medium
	}
	return rules.Low
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return list
		}
	}
	return append(list, v)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
