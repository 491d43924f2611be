package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/domain/rules"
)

const queueStatusTop = 10

type Service struct {
	rules  *rules.Set
	queue  Queue
	logger zerolog.Logger
}

func NewService(rs *rules.Set, q Queue, logger zerolog.Logger) *Service {
	return &Service{
		rules:  rs,
		queue:  q,
		logger: logger.With().Str("component", "triage").Logger(),
	}
}

// Assess computes the care level, routes and escalates the case, then adds
// it to its clinic's queue.
func (s *Service) Assess(ctx context.Context, req Request) (*Assessment, error) {
	level := CareLevel(req.Tier, req.Score)
	info, _ := Level(level)
	routing := s.Route(req.Symptoms, req.Conditions)
	esc := s.Escalate(level, rules.Text(append(append([]string{}, req.Symptoms...), req.Detail)...))

	pos, err := s.queue.Insert(ctx, Entry{
		CaseID:     req.CaseID,
		ClinicID:   req.ClinicID,
		CareLevel:  level,
		Department: routing.Code,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("queue case: %w", err)
	}

	a := &Assessment{
		CareLevel:     level,
		Level:         info,
		Tier:          req.Tier,
		Department:    routing,
		Escalation:    esc,
		Notes:         notes(req, info, routing),
		Actions:       actions(level, esc),
		QueuePosition: pos,
		WaitMinutes:   info.WaitMinutes,
	}

	ev := s.logger.Info()
	if esc.Needed {
		ev = s.logger.Warn().Str("escalation", esc.Type)
	}
	ev.Str("case_id", req.CaseID).
		Int("care_level", level).
		Str("department", string(routing.Code)).
		Int("position", pos).
		Msg("case triaged")
	return a, nil
}

// Route sends the case to the first department whose keywords occur in the
// symptoms or condition names.
func (s *Service) Route(symptoms, conditions []string) Routing {
	parts := append(append([]string{}, symptoms...), conditions...)
	code, matched, ok := s.rules.Route(rules.Text(parts...))
	if !ok {
		return Routing{Code: rules.General, Name: rules.General.DisplayName(), MatchedKeywords: []string{}}
	}
	return Routing{Code: code, Name: code.DisplayName(), MatchedKeywords: matched}
}

// Escalate decides who must be told. A critical phrase in text always
// escalates to the emergency team.
func (s *Service) Escalate(level int, text string) Escalation {
	esc := Escalation{Notify: []string{}}
	switch level {
	case 1:
		esc = Escalation{
			Needed: true,
			Type:   EscalateSeniorDoctor,
			Reason: "Critical care level requires senior oversight",
			Notify: []string{"senior_doctor", "department_head", "nursing_supervisor"},
		}
	case 2:
		esc = Escalation{
			Needed: true,
			Type:   EscalateOnCallDoctor,
			Reason: "Emergency care level requires doctor notification",
			Notify: []string{"on_call_doctor", "assigned_nurse"},
		}
	}
	if phrase, ok := s.rules.EscalationPhrase(text); ok {
		esc = Escalation{
			Needed:  true,
			Type:    EscalateEmergencyTeam,
			Reason:  "Critical symptom detected",
			Trigger: phrase,
			Notify:  []string{"emergency_team", "on_call_doctor"},
		}
	}
	return esc
}

// Status summarises a clinic's queue.
func (s *Service) Status(ctx context.Context, clinicID string) (*QueueStatus, error) {
	entries, err := s.queue.Snapshot(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	st := &QueueStatus{Total: len(entries), ByLevel: make(map[int]int, len(Levels))}
	for _, l := range Levels {
		st.ByLevel[l.Level] = 0
	}
	for _, e := range entries {
		st.ByLevel[e.CareLevel]++
	}
	if len(entries) > queueStatusTop {
		entries = entries[:queueStatusTop]
	}
	st.Top = entries
	return st, nil
}

// MarkSeen removes a case from the queue once a clinician has seen it.
func (s *Service) MarkSeen(ctx context.Context, caseID string) error {
	ok, err := s.queue.Remove(ctx, caseID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotQueued
	}
	s.logger.Info().Str("case_id", caseID).Msg("case left triage queue")
	return nil
}

// Withdraw removes a case if it is queued. Cancelled cases use it.
func (s *Service) Withdraw(ctx context.Context, caseID string) error {
	_, err := s.queue.Remove(ctx, caseID)
	return err
}

func notes(req Request, info LevelInfo, routing Routing) string {
	n := []string{
		"Patient presents with: " + strings.Join(req.Symptoms, ", "),
		"Assessment: " + strings.ToUpper(req.Tier.String()) + " urgency",
		fmt.Sprintf("Assigned Care Level: %d (%s)", info.Level, info.Name),
		"Routed to: " + routing.Name,
	}
	if info.Level <= 2 {
		n = append(n, "Requires immediate medical attention")
	}
	return strings.Join(n, " | ")
}

func actions(level int, esc Escalation) []Action {
	out := []Action{{
		Action:      "ADD_TO_QUEUE",
		Status:      "completed",
		Description: fmt.Sprintf("Added to care level %d queue", level),
	}}
	if esc.Needed {
		for _, r := range esc.Notify {
			out = append(out, Action{
				Action:      "NOTIFY",
				Recipient:   r,
				Status:      "sent",
				Description: "Alert sent to " + r,
			})
		}
	}
	switch level {
	case 1:
		out = append(out, Action{Action: "PREPARE_RESUSCITATION", Status: "initiated", Description: "Resuscitation room prepared"})
	case 2:
		out = append(out, Action{Action: "PREPARE_EMERGENCY_BED", Status: "initiated", Description: "Emergency bed assigned"})
	}
	return append(out, Action{Action: "UPDATE_PATIENT_RECORD", Status: "completed", Description: "Triage assessment recorded"})
}
