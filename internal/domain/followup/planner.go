package followup

import (
	"fmt"
	"strings"
	"time"

	"github.com/nidaan/triage/internal/domain/rules"
)

const dateLayout = "2006-01-02"

// Planner builds follow-up plans from the follow-up rule table. It has no
// side effects.
type Planner struct {
	rules *rules.Set
}

func NewPlanner(rs *rules.Set) *Planner {
	return &Planner{rules: rs}
}

// Build returns the schedule, reminders, instructions, monitoring plan and
// triggers for req. visit is used when req.VisitDate is empty or invalid.
func (p *Planner) Build(req Request, visit time.Time) *Plan {
	if req.VisitDate != "" {
		if d, err := time.ParseInLocation(dateLayout, req.VisitDate, visit.Location()); err == nil {
			visit = d
		}
	}
	rule := p.rules.FollowUpRule(req.Tier)
	schedule := Schedule(visit, rule)

	return &Plan{
		CaseID:       req.CaseID,
		ClinicID:     req.ClinicID,
		PatientRef:   req.PatientRef,
		DoctorID:     req.DoctorID,
		Tier:         req.Tier,
		VisitDate:    visit.Format(dateLayout),
		Status:       StatusActive,
		Schedule:     schedule,
		Reminders:    Reminders(req.PatientRef, schedule, rule.Channels),
		Instructions: Instructions(req.Tier, req.Conditions),
		Monitoring:   MonitoringFor(req.Tier, req.Conditions),
		Triggers:     Triggers(req.Tier),
		CheckIns:     []CheckIn{},
	}
}

// Schedule returns rule.Total entries; entry k (0-based) falls on
// visit + initial + k*interval days.
func Schedule(visit time.Time, rule rules.FollowUpRule) []Entry {
	out := make([]Entry, 0, rule.Total)
	for k := 0; k < rule.Total; k++ {
		e := Entry{
			Sequence: k + 1,
			Date:     visit.AddDate(0, 0, rule.InitialDays+k*rule.IntervalDays).Format(dateLayout),
			Type:     "follow_up",
			Priority: "normal",
			Status:   StatusScheduled,
		}
		if k == 0 {
			e.Type = "check_in"
			e.Priority = "high"
		}
		out = append(out, e)
	}
	return out
}

// Reminders returns one reminder per entry per channel, sent the day before.
func Reminders(patient string, schedule []Entry, channels []string) []Reminder {
	name := patient
	if name == "" {
		name = "there"
	}
	var out []Reminder
	for _, e := range schedule {
		due, _ := time.Parse(dateLayout, e.Date)
		send := due.AddDate(0, 0, -1).Format(dateLayout)
		for _, ch := range channels {
			var msg string
			switch ch {
			case "call":
				msg = "This is a reminder about your follow-up appointment tomorrow."
			case "sms":
				msg = fmt.Sprintf("Hi %s, your follow-up is scheduled for %s. Reply YES to confirm.", name, e.Date)
			default:
				msg = fmt.Sprintf("Dear %s, this is a reminder about your scheduled follow-up appointment.", name)
			}
			out = append(out, Reminder{
				Sequence: e.Sequence,
				Channel:  ch,
				SendDate: send,
				Message:  msg,
				Status:   StatusScheduled,
			})
		}
	}
	return out
}

// Instructions returns the general instructions, the urgent-tier ones and
// at most one per each of the top two conditions.
func Instructions(t rules.Tier, conditions []string) []Instruction {
	out := []Instruction{
		{"general", "Take all prescribed medications as directed", "high"},
		{"general", "Stay hydrated - drink at least 8 glasses of water daily", "normal"},
		{"general", "Get adequate rest and sleep", "normal"},
	}
	if t.Urgent() {
		out = append(out,
			Instruction{"monitoring", "Monitor temperature every 4 hours", "high"},
			Instruction{"emergency", "Seek immediate care if symptoms worsen", "critical"},
		)
	}
	seen := map[string]bool{}
	for i, c := range conditions {
		if i == 2 {
			break
		}
		in, ok := conditionInstruction(strings.ToLower(c))
		if ok && !seen[in.Instruction] {
			seen[in.Instruction] = true
			out = append(out, in)
		}
	}
	return out
}

func conditionInstruction(name string) (Instruction, bool) {
	switch {
	case strings.Contains(name, "fever") || strings.Contains(name, "viral"):
		return Instruction{"condition_specific", "Use fever-reducing medication if temperature exceeds 101°F", "high"}, true
	case strings.Contains(name, "respiratory") || strings.Contains(name, "cough"):
		return Instruction{"condition_specific", "Practice deep breathing exercises 3 times daily", "normal"}, true
	case strings.Contains(name, "gastro") || strings.Contains(name, "stomach"):
		return Instruction{"condition_specific", "Follow BRAT diet (Bananas, Rice, Applesauce, Toast)", "high"}, true
	}
	return Instruction{}, false
}

// MonitoringFor returns the vitals to track. High and critical tiers track
// more often and add oxygen and respiratory rate.
func MonitoringFor(t rules.Tier, conditions []string) Monitoring {
	m := Monitoring{
		Vitals:        []string{"temperature", "blood_pressure", "pulse"},
		Frequency:     "daily",
		LogSymptoms:   true,
		AlertsEnabled: true,
	}
	if t.Urgent() {
		m.Frequency = "every_4_hours"
		m.Vitals = append(m.Vitals, "oxygen_saturation", "respiratory_rate")
		m.PhotoDocumentation = true
	}
	names := strings.ToLower(strings.Join(conditions, " "))
	if strings.Contains(names, "cardiac") || strings.Contains(names, "heart") {
		m.Vitals = append(m.Vitals, "ecg_if_available")
	}
	if strings.Contains(names, "respiratory") {
		m.Vitals = append(m.Vitals, "peak_flow")
	}
	if strings.Contains(names, "diabetes") {
		m.Vitals = append(m.Vitals, "blood_sugar")
	}
	return m
}

// Triggers returns the escalation triggers; the oxygen trigger applies to
// high and critical tiers only.
func Triggers(t rules.Tier) []Trigger {
	out := []Trigger{
		{"temperature_above_103", "Temperature > 103°F (39.4°C)", "alert_doctor", "high"},
		{"no_improvement_48h", "No symptom improvement after 48 hours", "schedule_urgent_followup", "medium"},
		{"missed_followup", "Patient misses scheduled follow-up", "call_patient", "medium"},
		{"worsening_symptoms", "Patient reports worsening symptoms", "alert_doctor_and_reschedule", "high"},
	}
	if t.Urgent() {
		out = append(out, Trigger{"oxygen_below_94", "Oxygen saturation < 94%", "emergency_alert", "critical"})
	}
	return out
}

// Analyze reads a patient response. Concerning phrases win over positive
// ones.
func (p *Planner) Analyze(response string) Analysis {
	text := strings.ToLower(response)
	sig := p.rules.ResponseSignals
	a := Analysis{Outcome: OutcomeStable, Sentiment: "neutral", Concerns: []string{}}
	for _, w := range sig.Concerning {
		if strings.Contains(text, w) {
			a.Concerns = append(a.Concerns, w)
		}
	}
	switch {
	case len(a.Concerns) > 0:
		a.Outcome = OutcomeConcerning
		a.Sentiment = "negative"
		a.EscalationNeeded = true
	case rules.ContainsAny(text, sig.Positive):
		a.Outcome = OutcomeImproving
		a.Sentiment = "positive"
	}
	return a
}
