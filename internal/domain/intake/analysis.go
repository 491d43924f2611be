package intake

import (
	"strings"

	"github.com/nidaan/triage/internal/domain/rules"
	"github.com/nidaan/triage/internal/domain/severity"
)

// AutoAction is an automated step the analysis asks the later stages to
// take.
type AutoAction struct {
	Action      string `json:"action"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// Analysis is the result of the analysis stage.
type Analysis struct {
	severity.Assessment
	Duration        string       `json:"duration,omitempty"`
	Recommendations []string     `json:"recommendations"`
	AutoActions     []AutoAction `json:"auto_actions"`
}

// Analyzer is the analysis stage. It wraps the classifier and never fails.
type Analyzer struct {
	classifier *severity.Classifier
}

func NewAnalyzer(c *severity.Classifier) *Analyzer {
	return &Analyzer{classifier: c}
}

// Analyze classifies the case and adds recommendations and auto-actions.
// When no condition matches, the generic consultation condition is the only
// candidate.
func (a *Analyzer) Analyze(c *Case) *Analysis {
	as := a.classifier.Assess(severity.Input{Symptoms: c.Symptoms, Detail: c.Detail, Hint: c.Severity})
	if len(as.Conditions) == 0 {
		g := a.classifier.Rules().Generic
		as.Conditions = []severity.Condition{{Name: g.Name, Match: g.Match, Tier: g.Tier, Tests: g.Tests}}
	}
	return &Analysis{
		Assessment:      as,
		Duration:        c.Duration,
		Recommendations: Recommendations(as),
		AutoActions:     AutoActions(as.Tier),
	}
}

// Recommendations returns the tier advice, the top condition's tests and
// rest advice for severity 7 and above.
func Recommendations(as severity.Assessment) []string {
	var out []string
	switch as.Tier {
	case rules.Critical:
		out = append(out, "URGENT: Seek immediate medical attention", "Call emergency services or visit nearest ER")
	case rules.High:
		out = append(out, "Schedule appointment within 24 hours", "Monitor symptoms closely")
	case rules.Medium:
		out = append(out, "Schedule appointment within 2-3 days")
	default:
		out = append(out, "Schedule routine appointment at convenience")
	}
	if len(as.Conditions) > 0 && len(as.Conditions[0].Tests) > 0 {
		out = append(out, "Recommended tests: "+strings.Join(as.Conditions[0].Tests, ", "))
	}
	if as.Score >= 7 {
		out = append(out, "Rest and stay hydrated", "Avoid strenuous activity")
	}
	return out
}

// AutoActions returns the tier's actions followed by SCHEDULE_FOLLOWUP.
func AutoActions(t rules.Tier) []AutoAction {
	var out []AutoAction
	switch t {
	case rules.Critical:
		out = []AutoAction{
			{"ALERT_DOCTOR", "immediate", "Alert on-call doctor immediately"},
			{"PRIORITY_SCHEDULE", "immediate", "Auto-schedule emergency slot"},
		}
	case rules.High:
		out = []AutoAction{
			{"PRIORITY_SCHEDULE", "high", "Auto-schedule within 24 hours"},
			{"NOTIFY_DOCTOR", "high", "Notify assigned doctor"},
		}
	case rules.Medium:
		out = []AutoAction{{"AUTO_SCHEDULE", "normal", "Auto-schedule appointment"}}
	default:
		out = []AutoAction{{"QUEUE_APPOINTMENT", "low", "Add to appointment queue"}}
	}
	return append(out, AutoAction{"SCHEDULE_FOLLOWUP", "normal", "Schedule follow-up reminder"})
}
