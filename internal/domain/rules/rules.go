// Package rules holds the ordered keyword tables every triage component reads:
// red-flag phrases, intensity vocabularies, candidate conditions, department
// routing, the staff roster, the slot catalogue and follow-up cadences.
//
// A Set is parsed once and never mutated afterwards, so it can be shared by
// concurrent pipelines without locking.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// RedFlag maps a symptom phrase to the minimum tier it implies.
type RedFlag struct {
	Phrase string `yaml:"phrase"`
	Tier   Tier   `yaml:"tier"`
}

// Intensity groups the generic vocabularies that move a tier without naming
// a symptom.
type Intensity struct {
	Strong           []string `yaml:"strong"`
	Moderate         []string `yaml:"moderate"`
	Urgent           []string `yaml:"urgent"`
	UrgentThreshold  int      `yaml:"urgent_threshold"`
	Routine          []string `yaml:"routine"`
	RoutineThreshold int      `yaml:"routine_threshold"`
}

// Breathing configures the breathing-difficulty override.
type Breathing struct {
	Terms    []string `yaml:"terms"`
	Distress []string `yaml:"distress"`
	Flag     string   `yaml:"flag"`
}

// ConditionRule is one row of the keyword to candidate-condition table.
type ConditionRule struct {
	Keywords []string `yaml:"keywords"`
	Names    []string `yaml:"names"`
	Tier     Tier     `yaml:"tier"`
	Tests    []string `yaml:"tests"`
}

// GenericCondition is emitted when no condition row matches.
type GenericCondition struct {
	Name  string   `yaml:"name"`
	Match float64  `yaml:"match"`
	Tier  Tier     `yaml:"tier"`
	Tests []string `yaml:"tests"`
}

// KeywordRoute maps keywords to a department.
type KeywordRoute struct {
	Code     Department `yaml:"code"`
	Keywords []string   `yaml:"keywords"`
}

// Staff is a roster entry.
type Staff struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name"`
	Specialty  string     `yaml:"specialty" json:"specialty"`
	Department Department `yaml:"department" json:"department"`
}

// Slots configures the daily slot catalogue and scheduling windows.
type Slots struct {
	Catalog      []string       `yaml:"catalog"`
	Quiet        []string       `yaml:"quiet"`
	Emergency    string         `yaml:"emergency"`
	WindowDays   map[string]int `yaml:"window_days"`
	PriorityBase map[string]int `yaml:"priority_base"`
}

// FollowUpRule is the follow-up cadence for one tier.
type FollowUpRule struct {
	Tier         Tier     `yaml:"tier"`
	InitialDays  int      `yaml:"initial_days"`
	IntervalDays int      `yaml:"interval_days"`
	Total        int      `yaml:"total"`
	Channels     []string `yaml:"channels"`
}

// ResponseSignals classifies free-text follow-up check-ins.
type ResponseSignals struct {
	Concerning []string `yaml:"concerning"`
	Positive   []string `yaml:"positive"`
}

// Set is a validated, immutable rule catalogue.
type Set struct {
	RedFlags          []RedFlag        `yaml:"red_flags"`
	Intensity         Intensity        `yaml:"intensity"`
	Breathing         Breathing        `yaml:"breathing"`
	Conditions        []ConditionRule  `yaml:"conditions"`
	Generic           GenericCondition `yaml:"generic_condition"`
	Departments       []KeywordRoute   `yaml:"departments"`
	ConditionHints    []KeywordRoute   `yaml:"condition_hints"`
	Roster            []Staff          `yaml:"roster"`
	Slots             Slots            `yaml:"slots"`
	FollowUp          []FollowUpRule   `yaml:"followup"`
	EscalationPhrases []string         `yaml:"escalation_phrases"`
	ResponseSignals   ResponseSignals  `yaml:"response_signals"`

	windows   map[Tier]int
	bases     map[Tier]int
	followups map[Tier]FollowUpRule
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the embedded rule catalogue.
func Default() (*Set, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Parse(defaultRules)
	})
	return defaultSet, defaultErr
}

// MustDefault is Default for package-level initialisation and tests.
func MustDefault() *Set {
	s, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return s
}

// Load reads a rule catalogue from path. An empty path yields the embedded
// catalogue.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML rule catalogue.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.lowercase()
	return &s, nil
}

func (s *Set) validate() error {
	var errs []error
	if len(s.RedFlags) == 0 {
		errs = append(errs, errors.New("red_flags is empty"))
	}
	if len(s.Slots.Catalog) == 0 {
		errs = append(errs, errors.New("slots.catalog is empty"))
	}
	if s.Slots.Emergency == "" {
		errs = append(errs, errors.New("slots.emergency is required"))
	}
	if len(s.Roster) == 0 {
		errs = append(errs, errors.New("roster is empty"))
	}
	if s.Generic.Name == "" {
		errs = append(errs, errors.New("generic_condition.name is required"))
	}

	seen := make(map[string]bool, len(s.Roster))
	for _, st := range s.Roster {
		if st.ID == "" {
			errs = append(errs, errors.New("roster entry without id"))
			continue
		}
		if seen[st.ID] {
			errs = append(errs, fmt.Errorf("duplicate roster id %s", st.ID))
		}
		seen[st.ID] = true
	}

	for _, c := range s.Conditions {
		if len(c.Keywords) < 2 {
			errs = append(errs, fmt.Errorf("condition %v needs at least two keywords", c.Names))
		}
	}

	s.windows = make(map[Tier]int, len(Tiers))
	s.bases = make(map[Tier]int, len(Tiers))
	for name, days := range s.Slots.WindowDays {
		t, err := ParseTier(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("slots.window_days: %w", err))
			continue
		}
		s.windows[t] = days
	}
	for name, base := range s.Slots.PriorityBase {
		t, err := ParseTier(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("slots.priority_base: %w", err))
			continue
		}
		s.bases[t] = base
	}

	s.followups = make(map[Tier]FollowUpRule, len(s.FollowUp))
	for _, f := range s.FollowUp {
		if f.Total <= 0 {
			errs = append(errs, fmt.Errorf("followup %s: total must be positive", f.Tier))
		}
		if len(f.Channels) == 0 {
			errs = append(errs, fmt.Errorf("followup %s: no channels", f.Tier))
		}
		s.followups[f.Tier] = f
	}

	for _, t := range Tiers {
		if _, ok := s.windows[t]; !ok {
			errs = append(errs, fmt.Errorf("slots.window_days missing %s", t))
		}
		if _, ok := s.bases[t]; !ok {
			errs = append(errs, fmt.Errorf("slots.priority_base missing %s", t))
		}
		if _, ok := s.followups[t]; !ok {
			errs = append(errs, fmt.Errorf("followup missing %s", t))
		}
	}
	return errors.Join(errs...)
}

func (s *Set) lowercase() {
	for i := range s.RedFlags {
		s.RedFlags[i].Phrase = strings.ToLower(s.RedFlags[i].Phrase)
	}
	lowerAll(s.Intensity.Strong, s.Intensity.Moderate, s.Intensity.Urgent, s.Intensity.Routine)
	lowerAll(s.Breathing.Terms, s.Breathing.Distress)
	lowerAll(s.EscalationPhrases, s.ResponseSignals.Concerning, s.ResponseSignals.Positive)
	for i := range s.Conditions {
		lowerAll(s.Conditions[i].Keywords)
	}
	for i := range s.Departments {
		lowerAll(s.Departments[i].Keywords)
	}
	for i := range s.ConditionHints {
		lowerAll(s.ConditionHints[i].Keywords)
	}
}

func lowerAll(lists ...[]string) {
	for _, l := range lists {
		for i := range l {
			l[i] = strings.ToLower(l[i])
		}
	}
}

// WindowDays returns how many days ahead a tier may be scheduled.
func (s *Set) WindowDays(t Tier) int { return s.windows[t] }

// PriorityBase returns the base priority score of a tier.
func (s *Set) PriorityBase(t Tier) int { return s.bases[t] }

// FollowUpRule returns the follow-up cadence for a tier.
func (s *Set) FollowUpRule(t Tier) FollowUpRule { return s.followups[t] }
