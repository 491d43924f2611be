package followup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/platform/notification"
)

// reminderHour is the local hour reminders go out on their send date.
const reminderHour = 9

// Notifier queues templated notifications. *notification.Manager satisfies it.
type Notifier interface {
	ScheduleTemplate(ctx context.Context, templateID string, data map[string]string, ch notification.Channel, recipient string, sendAt time.Time) (*notification.Notification, error)
}

type Service struct {
	planner  *Planner
	repo     PlanRepository
	notifier Notifier
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(planner *Planner, repo PlanRepository, notifier Notifier, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		planner:  planner,
		repo:     repo,
		notifier: notifier,
		loc:      loc,
		logger:   logger.With().Str("component", "followup").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
}

// CreatePlan builds and stores the follow-up plan of a case and hands its
// reminders to the notifier.
func (s *Service) CreatePlan(ctx context.Context, req Request) (*Plan, error) {
	p := s.planner.Build(req, s.today())
	p.ID = uuid.New().String()
	p.CreatedAt = s.now().UTC()
	p.UpdatedAt = p.CreatedAt

	s.queueReminders(ctx, p)

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("save follow-up plan: %w", err)
	}
	s.logger.Info().
		Str("case_id", p.CaseID).
		Str("plan_id", p.ID).
		Int("followups", len(p.Schedule)).
		Int("reminders", len(p.Reminders)).
		Msg("follow-up plan created")
	return p, nil
}

func (s *Service) queueReminders(ctx context.Context, p *Plan) {
	if s.notifier == nil || p.PatientRef == "" {
		return
	}
	for i := range p.Reminders {
		r := &p.Reminders[i]
		ch, err := notification.ParseChannel(r.Channel)
		if err != nil {
			s.logger.Warn().Err(err).Str("plan_id", p.ID).Msg("reminder channel not supported")
			continue
		}
		send, _ := time.ParseInLocation(dateLayout, r.SendDate, s.loc)
		send = send.Add(reminderHour * time.Hour)
		var due string
		for _, e := range p.Schedule {
			if e.Sequence == r.Sequence {
				due = e.Date
			}
		}
		n, err := s.notifier.ScheduleTemplate(ctx, "followup-reminder", map[string]string{
			"sequence": strconv.Itoa(r.Sequence),
			"date":     due,
		}, ch, p.PatientRef, send)
		if err != nil {
			s.logger.Warn().Err(err).Str("plan_id", p.ID).Str("channel", r.Channel).Msg("reminder not queued")
			continue
		}
		r.NotificationID = n.ID
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Plan, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByCase(ctx context.Context, caseID string) (*Plan, error) {
	return s.repo.GetByCase(ctx, caseID)
}

func (s *Service) List(ctx context.Context, clinicID string, limit, offset int) ([]*Plan, int, error) {
	return s.repo.ListByClinic(ctx, clinicID, limit, offset)
}

// Pending returns the clinic's follow-ups due today or earlier.
func (s *Service) Pending(ctx context.Context, clinicID string) ([]Pending, error) {
	return s.repo.ListDue(ctx, clinicID, s.today().Format(dateLayout))
}

// RecordResponse analyses a patient's check-in against the next scheduled
// follow-up and completes it. A concerning response flags the plan and
// alerts the assigned doctor.
func (s *Service) RecordResponse(ctx context.Context, planID, response string) (*Plan, *Analysis, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, nil, ErrEmptyResponse
	}
	p, err := s.repo.GetByID(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	next, ok := p.Next()
	if !ok {
		return nil, nil, ErrPlanClosed
	}

	a := s.planner.Analyze(response)
	next.Status = StatusCompleted
	p.CheckIns = append(p.CheckIns, CheckIn{
		Sequence:   next.Sequence,
		Response:   response,
		Analysis:   a,
		ReceivedAt: s.now().UTC(),
	})

	switch {
	case a.EscalationNeeded:
		p.Status = StatusAttention
		s.alertDoctor(ctx, p, response)
	case !hasScheduled(p):
		p.Status = StatusClosed
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("save follow-up plan: %w", err)
	}
	s.logger.Info().Str("plan_id", p.ID).Str("outcome", a.Outcome).Int("followup", next.Sequence).Msg("check-in recorded")
	return p, &a, nil
}

func (s *Service) alertDoctor(ctx context.Context, p *Plan, response string) {
	if s.notifier == nil || p.DoctorID == "" {
		return
	}
	_, err := s.notifier.ScheduleTemplate(ctx, "doctor-followup-alert", map[string]string{
		"patient":  p.PatientRef,
		"response": response,
	}, notification.ChannelPush, p.DoctorID, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Str("plan_id", p.ID).Msg("doctor alert not queued")
	}
}

func hasScheduled(p *Plan) bool {
	_, ok := p.Next()
	return ok
}
