package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier is the ordinal urgency of a case. The zero value is Low and the
// integer order is the clinical order: Low < Medium < High < Critical.
type Tier int

const (
	Low Tier = iota
	Medium
	High
	Critical
)

// Tiers lists every tier from least to most urgent.
var Tiers = []Tier{Low, Medium, High, Critical}

func (t Tier) String() string {
	switch t {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t >= Low && t <= Critical
}

// AtLeast reports whether t is as urgent as other or more.
func (t Tier) AtLeast(other Tier) bool {
	return t >= other
}

// Urgent reports whether the tier requires same-day or next-day handling.
func (t Tier) Urgent() bool {
	return t >= High
}

// Max returns the more urgent of the given tiers.
func Max(tiers ...Tier) Tier {
	out := Low
	for _, t := range tiers {
		if t > out {
			out = t
		}
	}
	return out
}

// ParseTier accepts the lowercase names, their uppercase forms and the
// "moderate" alias for Medium.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium", "moderate":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	}
	return Low, fmt.Errorf("unknown urgency tier %q", s)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", t)
	}
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t *Tier) UnmarshalYAML(n *yaml.Node) error {
	return t.UnmarshalText([]byte(n.Value))
}

// UnmarshalText decodes the plain-text forms accepted by ParseTier.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
