package intake

import (
	"errors"
	"strings"
	"time"

	"github.com/nidaan/triage/internal/domain/rules"
	"github.com/nidaan/triage/internal/domain/scheduling"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("case cannot change to the requested status")
)

// Case statuses.
const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

// Case is a patient's reported problem as it moves through intake. Only an
// applied Changeset or an explicit cancel changes it after creation.
type Case struct {
	ID            string   `json:"id"`
	ClinicID      string   `json:"clinic_id"`
	PatientRef    string   `json:"patient_ref,omitempty"`
	Symptoms      []string `json:"symptoms"`
	Detail        string   `json:"symptom_details,omitempty"`
	Severity      string   `json:"severity,omitempty"`
	Duration      string   `json:"duration,omitempty"`
	PreferredDate string   `json:"preferred_date,omitempty"`
	PreferredTime string   `json:"preferred_time,omitempty"`
	Language      string   `json:"language"`
	Status        string   `json:"status"`

	Urgency       *rules.Tier      `json:"urgency_level,omitempty"`
	ScheduledDate string           `json:"scheduled_date,omitempty"`
	ScheduledTime string           `json:"scheduled_time,omitempty"`
	DoctorID      string           `json:"doctor_id,omitempty"`
	DoctorName    string           `json:"doctor_name,omitempty"`
	CareLevel     int              `json:"care_level,omitempty"`
	Department    rules.Department `json:"department,omitempty"`
	PriorityScore int              `json:"priority_score,omitempty"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest is the intake payload.
type CreateRequest struct {
	PatientRef    string   `json:"patient_ref"`
	Symptoms      []string `json:"symptoms"`
	Detail        string   `json:"symptom_details"`
	Severity      string   `json:"severity"`
	Duration      string   `json:"duration"`
	PreferredDate string   `json:"preferred_date"`
	PreferredTime string   `json:"preferred_time"`
	Language      string   `json:"language"`
}

// Validate trims the request in place and rejects it before any stage runs.
func (r *CreateRequest) Validate() error {
	symptoms := make([]string, 0, len(r.Symptoms))
	for _, s := range r.Symptoms {
		if s = strings.TrimSpace(s); s != "" {
			symptoms = append(symptoms, s)
		}
	}
	r.Symptoms = symptoms
	r.Detail = strings.TrimSpace(r.Detail)
	if len(r.Symptoms) == 0 {
		return &InputError{Field: "symptoms", Message: "at least one symptom is required"}
	}
	if r.PreferredDate != "" {
		if _, err := time.Parse(scheduling.DateLayout, r.PreferredDate); err != nil {
			return &InputError{Field: "preferred_date", Message: "expected YYYY-MM-DD"}
		}
	}
	if r.Language == "" {
		r.Language = "en"
	}
	return nil
}

// Stage names in execution order.
const (
	StageAnalysis   = "analysis"
	StageScheduling = "scheduling"
	StageTriage     = "triage"
	StageFollowUp   = "followup"
)

// Stage statuses.
const (
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// Run final statuses.
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunError      = "error"
)

// StageRecord is one executed stage of a run.
type StageRecord struct {
	Stage     int         `json:"stage"`
	Name      string      `json:"name"`
	Status    string      `json:"status"`
	Result    interface{} `json:"result"`
	Timestamp time.Time   `json:"timestamp"`
}

// Summary is the digest of a completed run.
type Summary struct {
	Urgency             rules.Tier `json:"urgency"`
	PossibleConditions  []string   `json:"possible_conditions"`
	ScheduledFor        string     `json:"scheduled_for"`
	AssignedDoctor      string     `json:"assigned_doctor"`
	CareLevel           int        `json:"care_level"`
	Department          string     `json:"department"`
	FollowUpCount       int        `json:"followup_count"`
	Recommendations     []string   `json:"recommendations"`
	NotificationsQueued int        `json:"notifications_queued"`
	AutoActionsTaken    int        `json:"auto_actions_taken"`
}

// Changeset is the update a completed run proposes for its case.
type Changeset struct {
	Status        string           `json:"status"`
	Urgency       rules.Tier       `json:"urgency_level"`
	ScheduledDate string           `json:"scheduled_date"`
	ScheduledTime string           `json:"scheduled_time"`
	DoctorID      string           `json:"doctor_id"`
	DoctorName    string           `json:"doctor_name"`
	CareLevel     int              `json:"care_level"`
	Department    rules.Department `json:"department"`
	PriorityScore int              `json:"priority_score"`
	ProcessedAt   time.Time        `json:"processed_at"`
}

// Apply copies the changeset onto c.
func (cs *Changeset) Apply(c *Case) {
	urgency := cs.Urgency
	processed := cs.ProcessedAt
	c.Status = cs.Status
	c.Urgency = &urgency
	c.ScheduledDate = cs.ScheduledDate
	c.ScheduledTime = cs.ScheduledTime
	c.DoctorID = cs.DoctorID
	c.DoctorName = cs.DoctorName
	c.CareLevel = cs.CareLevel
	c.Department = cs.Department
	c.PriorityScore = cs.PriorityScore
	c.ProcessedAt = &processed
	c.UpdatedAt = processed
}

// WorkflowRun is the audit record of one orchestrator pass over a case.
// Stages are only appended, and the run does not change once FinalStatus
// leaves in_progress.
type WorkflowRun struct {
	ID          string        `json:"run_id"`
	CaseID      string        `json:"case_id"`
	ClinicID    string        `json:"clinic_id"`
	Stages      []StageRecord `json:"stages"`
	FinalStatus string        `json:"final_status"`
	Summary     *Summary      `json:"summary,omitempty"`
	Changeset   *Changeset    `json:"changeset,omitempty"`
	Error       string        `json:"error,omitempty"`
	FailedStage string        `json:"failed_stage,omitempty"`
	StartedAt   time.Time     `json:"start_time"`
	FinishedAt  *time.Time    `json:"end_time,omitempty"`
}

// Finished reports whether the run reached a final status.
func (r *WorkflowRun) Finished() bool { return r.FinalStatus != RunInProgress }

// Stage returns the record of the named stage.
func (r *WorkflowRun) Stage(name string) (StageRecord, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageRecord{}, false
}
