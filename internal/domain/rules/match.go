package rules

import "strings"

// Text lowercases and joins the given parts so that a phrase can never match
// across the boundary of two separate symptoms.
func Text(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, strings.ToLower(p))
		}
	}
	return strings.Join(kept, " | ")
}

// ContainsAny reports whether text contains any of the words.
func ContainsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Count returns how many of the words occur in text.
func Count(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

// MatchRedFlags returns the red-flag rows whose phrase occurs in text, in
// table order.
func (s *Set) MatchRedFlags(text string) []RedFlag {
	var out []RedFlag
	for _, rf := range s.RedFlags {
		if strings.Contains(text, rf.Phrase) {
			out = append(out, rf)
		}
	}
	return out
}

// Route returns the first department whose keywords occur in text together
// with the matched keywords. ok is false when nothing matched.
func (s *Set) Route(text string) (dept Department, matched []string, ok bool) {
	for _, r := range s.Departments {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			return r.Code, matched, true
		}
	}
	return "", nil, false
}

// DepartmentForCondition maps a condition name to a department using the
// condition-name hints.
func (s *Set) DepartmentForCondition(name string) (Department, bool) {
	lower := strings.ToLower(name)
	for _, h := range s.ConditionHints {
		if ContainsAny(lower, h.Keywords) {
			return h.Code, true
		}
	}
	return "", false
}

// EscalationPhrase returns the first escalation phrase found in text.
func (s *Set) EscalationPhrase(text string) (string, bool) {
	for _, p := range s.EscalationPhrases {
		if strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

// StaffFor returns the first roster entry in the given department.
func (s *Set) StaffFor(d Department) (Staff, bool) {
	for _, st := range s.Roster {
		if st.Department == d {
			return st, true
		}
	}
	return Staff{}, false
}
