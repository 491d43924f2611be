package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/domain/followup"
	"github.com/nidaan/triage/internal/domain/triage"
	"github.com/nidaan/triage/internal/platform/db"
)

// SlotReleaser frees ledger slots held by a case.
type SlotReleaser interface {
	Release(ctx context.Context, caseID string) error
}

// TriageQueue is the part of the triage service intake needs after a run.
type TriageQueue interface {
	Withdraw(ctx context.Context, caseID string) error
	Status(ctx context.Context, clinicID string) (*triage.QueueStatus, error)
}

// PendingFollowUps lists due follow-ups.
type PendingFollowUps interface {
	Pending(ctx context.Context, clinicID string) ([]followup.Pending, error)
}

// Deps are the collaborators of the intake service.
type Deps struct {
	Cases        CaseRepository
	Runs         RunRepository
	Tx           db.Transactor
	Orchestrator *Orchestrator
	Analyzer     *Analyzer
	Slots        SlotReleaser
	Queue        TriageQueue
	FollowUps    PendingFollowUps
	Logger       zerolog.Logger
}

type Service struct {
	cases     CaseRepository
	runs      RunRepository
	tx        db.Transactor
	orch      *Orchestrator
	analyzer  *Analyzer
	slots     SlotReleaser
	queue     TriageQueue
	followups PendingFollowUps
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	tx := d.Tx
	if tx == nil {
		tx = db.NopTransactor{}
	}
	return &Service{
		cases:     d.Cases,
		runs:      d.Runs,
		tx:        tx,
		orch:      d.Orchestrator,
		analyzer:  d.Analyzer,
		slots:     d.Slots,
		queue:     d.Queue,
		followups: d.FollowUps,
		logger:    d.Logger.With().Str("component", "intake").Logger(),
		now:       time.Now,
	}
}

func storeError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &ExternalServiceError{Service: "case store", Err: err}
}

// Submit validates and stores a new case, runs the workflow over it and
// applies the resulting changeset. A failed stage is reported on the
// returned run, not as an error. The workflow is not cancelled when ctx is.
func (s *Service) Submit(ctx context.Context, clinicID string, req CreateRequest) (*Case, *WorkflowRun, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	c := &Case{
		ID:            uuid.New().String(),
		ClinicID:      clinicID,
		PatientRef:    req.PatientRef,
		Symptoms:      req.Symptoms,
		Detail:        req.Detail,
		Severity:      req.Severity,
		Duration:      req.Duration,
		PreferredDate: req.PreferredDate,
		PreferredTime: req.PreferredTime,
		Language:      req.Language,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, nil, storeError(err)
	}
	s.logger.Info().Str("case_id", c.ID).Str("clinic_id", clinicID).Int("symptoms", len(c.Symptoms)).Msg("case received")

	ctx = context.WithoutCancel(ctx)
	run := s.orch.Run(ctx, c)

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.runs.Create(ctx, run); err != nil {
			return err
		}
		if run.FinalStatus != RunCompleted {
			return nil
		}
		cur, err := s.cases.Mutate(ctx, c.ID, func(cur *Case) error {
			if cur.Status != StatusPending {
				return errNotPending
			}
			run.Changeset.Apply(cur)
			return nil
		})
		if errors.Is(err, errNotPending) {
			if latest, err := s.cases.GetByID(ctx, c.ID); err == nil {
				c = latest
			}
			return s.releaseLate(ctx, c.ID)
		}
		if err != nil {
			return err
		}
		c = cur
		return nil
	})
	if err != nil {
		return nil, nil, storeError(err)
	}
	return c, run, nil
}

// errNotPending stops a changeset from landing on a case that was cancelled
// while its workflow ran.
var errNotPending = errors.New("case is no longer pending")

// releaseLate undoes the slot and queue entries a run made for a case that
// was cancelled before the run finished.
func (s *Service) releaseLate(ctx context.Context, caseID string) error {
	s.logger.Info().Str("case_id", caseID).Msg("case cancelled during workflow, changeset dropped")
	if s.slots != nil {
		if err := s.slots.Release(ctx, caseID); err != nil {
			return fmt.Errorf("release slots: %w", err)
		}
	}
	if s.queue != nil {
		if err := s.queue.Withdraw(ctx, caseID); err != nil {
			return fmt.Errorf("withdraw from queue: %w", err)
		}
	}
	return nil
}

// GetCase returns the case when it belongs to clinicID. Cases of other
// clinics are reported as not found.
func (s *Service) GetCase(ctx context.Context, clinicID, id string) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) ListCases(ctx context.Context, clinicID, status string, limit, offset int) ([]*Case, int, error) {
	return s.cases.ListByClinic(ctx, clinicID, status, limit, offset)
}

// Cancel moves a case to cancelled, frees its slots and takes it off the
// triage queue.
func (s *Service) Cancel(ctx context.Context, clinicID, id string) (*Case, error) {
	var c *Case
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.cases.Mutate(ctx, id, func(cur *Case) error {
			if cur.ClinicID != clinicID {
				return ErrNotFound
			}
			if cur.Status == StatusCancelled {
				return ErrInvalidTransition
			}
			cur.Status = StatusCancelled
			cur.UpdatedAt = s.now().UTC()
			return nil
		})
		if err != nil {
			return err
		}
		if s.slots != nil {
			if err := s.slots.Release(ctx, id); err != nil {
				return fmt.Errorf("release slots: %w", err)
			}
		}
		if s.queue != nil {
			if err := s.queue.Withdraw(ctx, id); err != nil {
				return fmt.Errorf("withdraw from queue: %w", err)
			}
		}
		c = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, storeError(err)
	}
	s.logger.Info().Str("case_id", id).Msg("case cancelled")
	return c, nil
}

func (s *Service) GetRun(ctx context.Context, clinicID, id string) (*WorkflowRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, clinicID string, limit, offset int) ([]*WorkflowRun, int, error) {
	return s.runs.ListByClinic(ctx, clinicID, limit, offset)
}

func (s *Service) CaseRuns(ctx context.Context, clinicID, caseID string) ([]*WorkflowRun, error) {
	if _, err := s.GetCase(ctx, clinicID, caseID); err != nil {
		return nil, err
	}
	return s.runs.ListByCase(ctx, caseID)
}

// Analyze runs only the analysis stage. Nothing is stored.
func (s *Service) Analyze(req CreateRequest) (*Analysis, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.analyzer.Analyze(&Case{Symptoms: req.Symptoms, Detail: req.Detail, Severity: req.Severity, Duration: req.Duration}), nil
}

// Agent describes one workflow stage for the status endpoint.
type Agent struct {
	Stage  string `json:"stage"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// AgentStatus is the health of the workflow for one clinic.
type AgentStatus struct {
	Agents           []Agent             `json:"agents"`
	Runs             map[string]int      `json:"workflows"`
	Queue            *triage.QueueStatus `json:"queue_status,omitempty"`
	PendingFollowUps int                 `json:"pending_followups"`
}

var agents = []Agent{
	{StageAnalysis, "Symptom Analyzer", "active"},
	{StageScheduling, "Appointment Scheduler", "active"},
	{StageTriage, "Triage Specialist", "active"},
	{StageFollowUp, "Follow-Up Manager", "active"},
}

func (s *Service) AgentStatus(ctx context.Context, clinicID string) (*AgentStatus, error) {
	runs, err := s.runs.CountByStatus(ctx, clinicID)
	if err != nil {
		return nil, storeError(err)
	}
	st := &AgentStatus{Agents: agents, Runs: runs}
	if s.queue != nil {
		if st.Queue, err = s.queue.Status(ctx, clinicID); err != nil {
			return nil, storeError(err)
		}
	}
	if s.followups != nil {
		pending, err := s.followups.Pending(ctx, clinicID)
		if err != nil {
			return nil, storeError(err)
		}
		st.PendingFollowUps = len(pending)
	}
	return st, nil
}
