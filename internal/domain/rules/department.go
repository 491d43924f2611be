package rules

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Department is the clinical service a case is routed to.
type Department string

const (
	Cardiac     Department = "cardiac"
	Respiratory Department = "respiratory"
	Gastro      Department = "gastro"
	Neuro       Department = "neuro"
	Ortho       Department = "ortho"
	Derma       Department = "derma"
	ENT         Department = "ent"
	General     Department = "general"
)

var departments = map[Department]string{
	Cardiac:     "Cardiac Department",
	Respiratory: "Respiratory Department",
	Gastro:      "Gastro Department",
	Neuro:       "Neuro Department",
	Ortho:       "Ortho Department",
	Derma:       "Derma Department",
	ENT:         "ENT Department",
	General:     "General Medicine",
}

// Valid reports whether d is a known department code.
func (d Department) Valid() bool {
	_, ok := departments[d]
	return ok
}

// DisplayName returns the human readable department name.
func (d Department) DisplayName() string {
	if name, ok := departments[d]; ok {
		return name
	}
	return string(d)
}

// ParseDepartment normalises a department code.
func ParseDepartment(s string) (Department, error) {
	d := Department(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown department %q", s)
	}
	return d, nil
}

func (d *Department) UnmarshalText(b []byte) error {
	parsed, err := ParseDepartment(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Department) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}
