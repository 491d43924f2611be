package visitdoc

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	defaultAge    = 45
	defaultGender = "male"
)

func translationPrompt(text, language string) string {
	return fmt.Sprintf(`Translate the following consultation transcript from %s into clear clinical English.
Keep medical terms, dosages and durations exact. Return only the translation.

Transcript:
%s`, language, text)
}

func notePrompt(translated string, age int, gender string) string {
	return fmt.Sprintf(`Write a structured clinical note for a %d year old %s patient from the consultation below.
Use exactly these section headers, each on its own line: SUBJECTIVE:, OBJECTIVE:, ASSESSMENT:, PLAN:.

Consultation:
%s`, age, gender, translated)
}

func differentialPrompt(translated, chiefComplaint string, age int, gender string) string {
	return fmt.Sprintf(`List the differential diagnosis for a %d year old %s patient.
Chief complaint: %s

Consultation:
%s

Answer with a JSON array ordered from most to least likely. Each element has
"condition", "probability" (high, medium or low), "supporting_factors", "against" and "next_steps".`,
		age, gender, chiefComplaint, translated)
}

// chiefComplaint is the first sentence of the translated text, capped at
// 100 characters.
func chiefComplaint(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?\n"); i >= 0 {
		text = text[:i]
	}
	if r := []rune(text); len(r) > 100 {
		text = string(r[:100])
	}
	return strings.TrimSpace(text)
}

var noteHeaders = []string{"SUBJECTIVE:", "OBJECTIVE:", "ASSESSMENT:", "PLAN:"}

// parseNote splits generated text on the four section headers. Text before
// the first header is dropped and a missing section stays empty.
func parseNote(text string) Note {
	sections := make(map[string][]string, len(noteHeaders))
	current := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		header := ""
		for _, h := range noteHeaders {
			if strings.HasPrefix(strings.ToUpper(trimmed), h) {
				header = h
				break
			}
		}
		if header != "" {
			current = header
			if rest := strings.TrimSpace(trimmed[len(header):]); rest != "" {
				sections[current] = append(sections[current], rest)
			}
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}
	join := func(h string) string { return strings.TrimSpace(strings.Join(sections[h], "\n")) }
	return Note{
		Subjective: join("SUBJECTIVE:"),
		Objective:  join("OBJECTIVE:"),
		Assessment: join("ASSESSMENT:"),
		Plan:       join("PLAN:"),
	}
}

// parseDifferential reads the JSON array out of generated text, tolerating
// prose or code fences around it.
func parseDifferential(text string) ([]Diagnosis, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("differential: no JSON array in response")
	}
	var out []Diagnosis
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("differential: %w", err)
	}
	kept := out[:0]
	for _, d := range out {
		if strings.TrimSpace(d.Condition) != "" {
			kept = append(kept, d)
		}
	}
	return kept, nil
}
