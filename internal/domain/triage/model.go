package triage

import (
	"errors"
	"time"

	"github.com/nidaan/triage/internal/domain/rules"
)

var (
	ErrNotQueued        = errors.New("case is not in the triage queue")
	ErrInvalidCareLevel = errors.New("care level must be between 1 and 5")
)

// LevelInfo describes one of the five care levels.
type LevelInfo struct {
	Level       int    `json:"level"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	WaitMinutes int    `json:"target_wait_minutes"`
}

// Levels is the care-level catalogue, most urgent first.
var Levels = []LevelInfo{
	{1, "Resuscitation", "red", "Life-threatening, immediate intervention", 0},
	{2, "Emergency", "orange", "Potentially life-threatening, urgent", 10},
	{3, "Urgent", "yellow", "Serious but stable, prompt attention needed", 30},
	{4, "Less Urgent", "green", "Minor conditions, can wait", 60},
	{5, "Non-Urgent", "blue", "Minor issues, routine care", 120},
}

// Level returns the catalogue entry for level.
func Level(level int) (LevelInfo, error) {
	if level < 1 || level > len(Levels) {
		return LevelInfo{}, ErrInvalidCareLevel
	}
	return Levels[level-1], nil
}

// CareLevel maps urgency and severity score to a care level, 1 being the
// most urgent.
func CareLevel(t rules.Tier, score int) int {
	switch {
	case t == rules.Critical || score >= 9:
		return 1
	case t == rules.High || score >= 7:
		return 2
	case t == rules.Medium || score >= 5:
		return 3
	case score >= 3:
		return 4
	}
	return 5
}

// Escalation types.
const (
	EscalateSeniorDoctor  = "senior_doctor"
	EscalateOnCallDoctor  = "on_call_doctor"
	EscalateEmergencyTeam = "emergency_team"
)

// Escalation records who must be told about a case.
type Escalation struct {
	Needed  bool     `json:"needed"`
	Type    string   `json:"type,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Trigger string   `json:"trigger,omitempty"`
	Notify  []string `json:"notify"`
}

// Routing is the department a case is sent to and the keywords that chose it.
type Routing struct {
	Code            rules.Department `json:"code"`
	Name            string           `json:"name"`
	MatchedKeywords []string         `json:"matched_keywords"`
}

// Action is a step taken as a result of triage.
type Action struct {
	Action      string `json:"action"`
	Recipient   string `json:"recipient,omitempty"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Request is the input to a triage assessment.
type Request struct {
	CaseID     string
	ClinicID   string
	Symptoms   []string
	Detail     string
	Conditions []string
	Tier       rules.Tier
	Score      int
}

// Assessment is the triage outcome for one case.
type Assessment struct {
	CareLevel     int        `json:"care_level"`
	Level         LevelInfo  `json:"care_level_info"`
	Tier          rules.Tier `json:"urgency_classification"`
	Department    Routing    `json:"department"`
	Escalation    Escalation `json:"escalation"`
	Notes         string     `json:"triage_notes"`
	Actions       []Action   `json:"actions_taken"`
	QueuePosition int        `json:"queue_position"`
	WaitMinutes   int        `json:"estimated_wait_minutes"`
}

// Entry is one waiting case in a clinic's queue.
type Entry struct {
	CaseID     string           `json:"case_id"`
	ClinicID   string           `json:"clinic_id"`
	CareLevel  int              `json:"care_level"`
	Department rules.Department `json:"department"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// QueueStatus summarises a clinic's queue.
type QueueStatus struct {
	Total   int         `json:"total_patients"`
	ByLevel map[int]int `json:"by_level"`
	Top     []Entry     `json:"queue"`
}
