package followup

import (
	"errors"
	"time"

	"github.com/nidaan/triage/internal/domain/rules"
)

var (
	ErrNotFound      = errors.New("follow-up plan not found")
	ErrEmptyResponse = errors.New("response is required")
	ErrPlanClosed    = errors.New("follow-up plan has no scheduled entries left")
)

// Entry and plan statuses.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusActive    = "active"
	StatusAttention = "needs_attention"
	StatusClosed    = "closed"
)

// Response outcomes.
const (
	OutcomeConcerning = "concerning"
	OutcomeImproving  = "improving"
	OutcomeStable     = "stable"
)

// Entry is one planned follow-up contact.
type Entry struct {
	Sequence int    `json:"followup_number"`
	Date     string `json:"scheduled_date"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// Reminder is sent the day before a follow-up on one channel.
type Reminder struct {
	Sequence       int    `json:"followup_number"`
	Channel        string `json:"channel"`
	SendDate       string `json:"send_date"`
	Message        string `json:"message"`
	Status         string `json:"status"`
	NotificationID string `json:"notification_id,omitempty"`
}

// Instruction is a care instruction given to the patient.
type Instruction struct {
	Category    string `json:"category"`
	Instruction string `json:"instruction"`
	Priority    string `json:"priority"`
}

// Monitoring is what the patient tracks between contacts.
type Monitoring struct {
	Vitals             []string `json:"vitals_to_track"`
	Frequency          string   `json:"tracking_frequency"`
	LogSymptoms        bool     `json:"log_symptoms"`
	PhotoDocumentation bool     `json:"photo_documentation"`
	AlertsEnabled      bool     `json:"alerts_enabled"`
}

// Trigger is a condition that escalates the plan.
type Trigger struct {
	Trigger   string `json:"trigger"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
	Severity  string `json:"severity"`
}

// Analysis is the reading of a patient's check-in response.
type Analysis struct {
	Outcome          string   `json:"outcome"`
	Sentiment        string   `json:"sentiment"`
	Concerns         []string `json:"concerns_detected"`
	EscalationNeeded bool     `json:"escalation_needed"`
}

// CheckIn is a recorded patient response.
type CheckIn struct {
	Sequence   int       `json:"followup_number"`
	Response   string    `json:"response"`
	Analysis   Analysis  `json:"analysis"`
	ReceivedAt time.Time `json:"received_at"`
}

// Plan is the complete follow-up plan of a case.
type Plan struct {
	ID           string        `json:"id"`
	CaseID       string        `json:"case_id"`
	ClinicID     string        `json:"clinic_id"`
	PatientRef   string        `json:"patient_ref"`
	DoctorID     string        `json:"doctor_id,omitempty"`
	Tier         rules.Tier    `json:"urgency_level"`
	VisitDate    string        `json:"visit_date"`
	Status       string        `json:"status"`
	Schedule     []Entry       `json:"schedule"`
	Reminders    []Reminder    `json:"reminders"`
	Instructions []Instruction `json:"care_instructions"`
	Monitoring   Monitoring    `json:"monitoring_plan"`
	Triggers     []Trigger     `json:"escalation_triggers"`
	CheckIns     []CheckIn     `json:"check_ins"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Next returns the first follow-up still scheduled.
func (p *Plan) Next() (*Entry, bool) {
	for i := range p.Schedule {
		if p.Schedule[i].Status == StatusScheduled {
			return &p.Schedule[i], true
		}
	}
	return nil, false
}

// Pending is a due follow-up contact.
type Pending struct {
	PlanID     string `json:"plan_id"`
	CaseID     string `json:"case_id"`
	PatientRef string `json:"patient_ref"`
	Entry
}

// Request is the input to plan creation.
type Request struct {
	CaseID     string
	ClinicID   string
	PatientRef string
	DoctorID   string
	Tier       rules.Tier
	Conditions []string
	// VisitDate is YYYY-MM-DD; empty means today.
	VisitDate string
}
