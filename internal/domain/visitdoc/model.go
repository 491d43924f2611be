package visitdoc

import (
	"errors"
	"fmt"
	"time"

	"github.com/nidaan/triage/internal/domain/rules"
	"github.com/nidaan/triage/internal/domain/severity"
)

var (
	ErrNotFound          = errors.New("visit not found")
	ErrInvalidTransition = errors.New("invalid visit status transition")
	ErrVisitFinished     = errors.New("visit processing already finished")
	ErrQueueFull         = errors.New("processing queue full")
	ErrNoAudio           = errors.New("audio reference is required")
)

// State is the processing status of a visit.
type State string

const (
	StatePending      State = "PENDING"
	StateProcessing   State = "PROCESSING"
	StateTranscribing State = "TRANSCRIBING"
	StateAnalyzing    State = "ANALYZING"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
)

var nextState = map[State]State{
	StatePending:      StateProcessing,
	StateProcessing:   StateTranscribing,
	StateTranscribing: StateAnalyzing,
	StateAnalyzing:    StateCompleted,
}

// Progress is the completion percentage reported for each state.
var Progress = map[State]int{
	StatePending:      0,
	StateProcessing:   10,
	StateTranscribing: 30,
	StateAnalyzing:    60,
	StateCompleted:    100,
	StateFailed:       0,
}

// Terminal reports whether no further transition can take effect.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Note is the four-section structured clinical note.
type Note struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Diagnosis is one entry of the differential list.
type Diagnosis struct {
	Condition   string   `json:"condition"`
	Probability string   `json:"probability"`
	Supporting  []string `json:"supporting_factors"`
	Against     []string `json:"against"`
	NextSteps   []string `json:"next_steps"`
}

// Visit is a recorded consultation moving through the documentation
// pipeline.
type Visit struct {
	ID            string `json:"visit_id"`
	ClinicID      string `json:"clinic_id"`
	PatientRef    string `json:"patient_id"`
	DoctorID      string `json:"doctor_id,omitempty"`
	Language      string `json:"language_code"`
	PatientAge    int    `json:"patient_age"`
	PatientGender string `json:"patient_gender"`
	Status        State  `json:"status"`
	AudioRef      string `json:"audio_ref,omitempty"`

	Transcript     string               `json:"transcript,omitempty"`
	TranslatedText string               `json:"translated_text,omitempty"`
	ChiefComplaint string               `json:"chief_complaint,omitempty"`
	Note           *Note                `json:"soap_note,omitempty"`
	Differential   []Diagnosis          `json:"differential_diagnosis"`
	Severity       *severity.Assessment `json:"severity,omitempty"`
	RiskLevel      string               `json:"risk_level,omitempty"`
	ErrorMessage   string               `json:"error_message,omitempty"`

	ProcessingStartedAt *time.Time   `json:"processing_started_at,omitempty"`
	ProcessingSeconds   float64      `json:"processing_time_seconds,omitempty"`
	History             []Transition `json:"history"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Advance moves the visit to state to. Only the next state in sequence or
// FAILED is accepted. Once the visit is COMPLETED or FAILED every call is a
// no-op and reports false.
func (v *Visit) Advance(to State, at time.Time) (bool, error) {
	if v.Status.Terminal() {
		return false, nil
	}
	if to != StateFailed && nextState[v.Status] != to {
		return false, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, v.Status, to)
	}
	v.History = append(v.History, Transition{From: v.Status, To: to, At: at})
	v.Status = to
	v.UpdatedAt = at
	return true, nil
}

// RiskLevel names a tier the way the documentation screens show it.
func RiskLevel(t rules.Tier) string {
	switch t {
	case rules.Critical:
		return "CRITICAL"
	case rules.High:
		return "HIGH"
	case rules.Medium:
		return "MODERATE"
	}
	return "LOW"
}

// CreateRequest opens a visit.
type CreateRequest struct {
	PatientRef    string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	Language      string `json:"language_code"`
	PatientAge    int    `json:"patient_age"`
	PatientGender string `json:"patient_gender"`
}

// StatusView answers the status query.
type StatusView struct {
	VisitID          string `json:"visit_id"`
	Status           State  `json:"status"`
	ProgressPercent  int    `json:"progress_percentage"`
	CurrentStep      string `json:"current_step"`
	ErrorMessage     string `json:"error_message,omitempty"`
	EstimatedSeconds int    `json:"estimated_completion_seconds"`
}

// View builds the status answer for v.
func (v *Visit) View() StatusView {
	est := 30
	if v.Status.Terminal() {
		est = 0
	}
	return StatusView{
		VisitID:          v.ID,
		Status:           v.Status,
		ProgressPercent:  Progress[v.Status],
		CurrentStep:      string(v.Status),
		ErrorMessage:     v.ErrorMessage,
		EstimatedSeconds: est,
	}
}
