package scheduling

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/domain/rules"
	"github.com/nidaan/triage/internal/platform/notification"
)

// Notifier queues templated notifications. *notification.Manager satisfies it.
type Notifier interface {
	ScheduleTemplate(ctx context.Context, templateID string, data map[string]string, ch notification.Channel, recipient string, sendAt time.Time) (*notification.Notification, error)
}

// Service places cases into dated slots with a doctor.
type Service struct {
	rules    *rules.Set
	ledger   Ledger
	notifier Notifier
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds a scheduling service. notifier may be nil.
func NewService(rs *rules.Set, ledger Ledger, notifier Notifier, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		rules:    rs,
		ledger:   ledger,
		notifier: notifier,
		loc:      loc,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Today returns the current clinic date.
func (s *Service) Today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
}

// Schedule picks a date, slot, department and doctor for req and records the
// slot in the ledger.
func (s *Service) Schedule(ctx context.Context, req Request) (*Decision, error) {
	if len(s.rules.Slots.Catalog) == 0 {
		return nil, ErrSlotCatalogEmpty
	}
	if len(s.rules.Roster) == 0 {
		return nil, ErrNoStaff
	}

	date := s.pickDate(req.Tier, req.PreferredDate)
	dateStr := date.Format(DateLayout)

	slot, err := s.ledger.Reserve(ctx, dateStr, req.CaseID, func(taken []string) (string, error) {
		return s.pickSlot(taken, req.Tier, req.PreferredTime), nil
	})
	if err != nil {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	dept := req.Department
	if dept == "" {
		dept = s.Department(req.Symptoms, req.Conditions)
	}
	doctor := s.AssignDoctor(dept, req.Conditions)

	d := &Decision{
		Date:       dateStr,
		Time:       slot,
		Doctor:     doctor,
		Department: dept,
		Priority:   s.Priority(req.Tier, req.Score),
		Tier:       req.Tier,
		Emergency:  slot == s.rules.Slots.Emergency,
	}
	d.WaitHours = s.waitHours(date, slot)
	d.Reasoning = reasoning(req.Tier, d)
	d.Notifications = s.notify(ctx, req, d, date)

	s.logger.Info().
		Str("case_id", req.CaseID).
		Str("urgency", req.Tier.String()).
		Str("date", d.Date).
		Str("slot", d.Time).
		Str("doctor", doctor.ID).
		Msg("case scheduled")
	return d, nil
}

// pickDate applies the urgency window. Critical cases go today, high
// tomorrow; others keep a preferred date inside the window or fall back to
// min(window, 2) days out.
func (s *Service) pickDate(t rules.Tier, preferred string) time.Time {
	today := s.Today()
	switch t {
	case rules.Critical:
		return today
	case rules.High:
		return today.AddDate(0, 0, 1)
	}
	window := s.rules.WindowDays(t)
	if preferred != "" {
		if p, err := ParseDate(preferred, s.loc); err == nil && !p.Before(today) && !p.After(today.AddDate(0, 0, window)) {
			return p
		}
	}
	offset := window
	if offset > 2 {
		offset = 2
	}
	return today.AddDate(0, 0, offset)
}

// pickSlot chooses a time given the taken slots for the date.
func (s *Service) pickSlot(taken []string, t rules.Tier, preferred string) string {
	cat := s.rules.Slots
	free := freeSlots(cat.Catalog, taken)

	if t.Urgent() {
		if len(free) == 0 {
			return cat.Emergency
		}
		return free[0]
	}

	if len(free) == 0 {
		free = cat.Catalog
	}
	if preferred != "" && contains(free, preferred) {
		return preferred
	}
	for _, q := range cat.Quiet {
		if contains(free, q) {
			return q
		}
	}
	return free[0]
}

// Department routes symptoms, then condition names, to a department.
func (s *Service) Department(symptoms, conditions []string) rules.Department {
	if d, _, ok := s.rules.Route(rules.Text(symptoms...)); ok {
		return d
	}
	if d, _, ok := s.rules.Route(rules.Text(conditions...)); ok {
		return d
	}
	return rules.General
}

// AssignDoctor walks department, condition hints, general medicine and
// finally the first roster entry.
func (s *Service) AssignDoctor(dept rules.Department, conditions []string) rules.Staff {
	if st, ok := s.rules.StaffFor(dept); ok {
		return st
	}
	for _, c := range conditions {
		if d, ok := s.rules.DepartmentForCondition(c); ok {
			if st, ok := s.rules.StaffFor(d); ok {
				return st
			}
		}
	}
	if st, ok := s.rules.StaffFor(rules.General); ok {
		return st
	}
	return s.rules.Roster[0]
}

// Priority is the tier base plus six points per severity point, capped at 100.
func (s *Service) Priority(t rules.Tier, score int) int {
	p := s.rules.PriorityBase(t) + score*6
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

// Day returns the taken and free slots of a date.
func (s *Service) Day(ctx context.Context, date string) (*DaySchedule, error) {
	if _, err := ParseDate(date, s.loc); err != nil {
		return nil, err
	}
	taken, err := s.ledger.Taken(ctx, date)
	if err != nil {
		return nil, err
	}
	return &DaySchedule{Date: date, Taken: taken, Free: freeSlots(s.rules.Slots.Catalog, taken)}, nil
}

// Release frees the slots held by a case.
func (s *Service) Release(ctx context.Context, caseID string) error {
	n, err := s.ledger.ReleaseCase(ctx, caseID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info().Str("case_id", caseID).Int("slots", n).Msg("slots released")
	}
	return nil
}

// Roster returns the staff roster.
func (s *Service) Roster() []rules.Staff { return s.rules.Roster }

func (s *Service) slotTime(date time.Time, slot string) (time.Time, bool) {
	t, err := time.Parse(slotLayout, slot)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, s.loc), true
}

func (s *Service) waitHours(date time.Time, slot string) float64 {
	at, ok := s.slotTime(date, slot)
	if !ok {
		return 0
	}
	h := at.Sub(s.now()).Hours()
	if h < 0 {
		return 0
	}
	return math.Round(h*10) / 10
}

func (s *Service) notify(ctx context.Context, req Request, d *Decision, date time.Time) []SentNotice {
	if s.notifier == nil {
		return nil
	}
	var out []SentNotice
	queue := func(template string, data map[string]string, ch notification.Channel, recipient string, at time.Time) {
		n, err := s.notifier.ScheduleTemplate(ctx, template, data, ch, recipient, at)
		if err != nil {
			s.logger.Warn().Err(err).Str("case_id", req.CaseID).Str("template", template).Msg("notification not queued")
			return
		}
		out = append(out, SentNotice{ID: n.ID, Channel: string(ch), Recipient: recipient, Template: template})
	}

	data := map[string]string{
		"doctor":     d.Doctor.Name,
		"department": d.Department.DisplayName(),
		"date":       d.Date,
		"time":       d.Time,
		"urgency":    d.Tier.String(),
		"symptoms":   strings.Join(req.Symptoms, ", "),
	}
	now := s.now()
	if req.PatientRef != "" {
		queue("appointment-confirmation", data, notification.ChannelSMS, req.PatientRef, now)
		queue("appointment-confirmation", data, notification.ChannelEmail, req.PatientRef, now)
		eve := time.Date(date.Year(), date.Month(), date.Day()-1, 18, 0, 0, 0, s.loc)
		if eve.After(now) {
			queue("appointment-reminder", data, notification.ChannelSMS, req.PatientRef, eve)
		}
	}
	if d.Tier.Urgent() {
		queue("doctor-urgent", data, notification.ChannelPush, d.Doctor.ID, now)
	}
	return out
}

func reasoning(t rules.Tier, d *Decision) string {
	var parts []string
	switch t {
	case rules.Critical:
		parts = append(parts, "Patient requires immediate attention based on critical symptoms", "Scheduled emergency appointment for today")
	case rules.High:
		parts = append(parts, "High urgency symptoms detected - scheduling within 24 hours")
	case rules.Medium:
		parts = append(parts, "Moderate symptoms require attention within 2-3 days")
	default:
		parts = append(parts, "Routine appointment scheduled based on availability")
	}
	parts = append(parts,
		fmt.Sprintf("Assigned to %s (%s)", d.Doctor.Name, d.Doctor.Specialty),
		fmt.Sprintf("Selected %s slot", d.Time))
	return strings.Join(parts, " | ")
}

func freeSlots(catalog, taken []string) []string {
	out := make([]string, 0, len(catalog))
	for _, s := range catalog {
		if !contains(taken, s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
