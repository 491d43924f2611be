package scheduling

import (
	"errors"
	"time"

	"github.com/nidaan/triage/internal/domain/rules"
)

// DateLayout is the wire and ledger form of an appointment date.
const DateLayout = "2006-01-02"

// slotLayout parses catalogue entries such as "02:30 PM".
const slotLayout = "03:04 PM"

var (
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
	ErrSlotCatalogEmpty = errors.New("slot catalogue is empty")
	ErrNoStaff          = errors.New("staff roster is empty")
)

// Request carries what the scheduler needs to place one case.
type Request struct {
	CaseID        string
	PatientRef    string
	Tier          rules.Tier
	Score         int
	PreferredDate string
	PreferredTime string
	Symptoms      []string
	Conditions    []string
	// Department overrides keyword routing when set.
	Department rules.Department
}

// SentNotice records a notification queued for the decision.
type SentNotice struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Template  string `json:"template"`
}

// Decision is the outcome of scheduling one case.
type Decision struct {
	Date          string           `json:"scheduled_date"`
	Time          string           `json:"scheduled_time"`
	Doctor        rules.Staff      `json:"assigned_doctor"`
	Department    rules.Department `json:"department"`
	Priority      int              `json:"priority_score"`
	Tier          rules.Tier       `json:"urgency_level"`
	WaitHours     float64          `json:"wait_time_hours"`
	Emergency     bool             `json:"emergency_slot"`
	Reasoning     string           `json:"reasoning"`
	Notifications []SentNotice     `json:"notifications,omitempty"`
}

// Reservation is one taken slot in the ledger.
type Reservation struct {
	Date      string    `json:"date"`
	Slot      string    `json:"slot"`
	CaseID    string    `json:"case_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DaySchedule is the ledger view of one date.
type DaySchedule struct {
	Date  string   `json:"date"`
	Taken []string `json:"taken"`
	Free  []string `json:"free"`
}

// ParseDate validates a YYYY-MM-DD date.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}
