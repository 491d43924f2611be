package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/domain/followup"
	"github.com/nidaan/triage/internal/domain/rules"
	"github.com/nidaan/triage/internal/domain/scheduling"
	"github.com/nidaan/triage/internal/domain/triage"
	"github.com/nidaan/triage/internal/platform/websocket"
)

// Scheduler places a case. *scheduling.Service satisfies it.
type Scheduler interface {
	Schedule(ctx context.Context, req scheduling.Request) (*scheduling.Decision, error)
}

// Triager assigns a care level and queues a case. *triage.Service satisfies
// it.
type Triager interface {
	Assess(ctx context.Context, req triage.Request) (*triage.Assessment, error)
}

// FollowUpPlanner creates a follow-up plan. *followup.Service satisfies it.
type FollowUpPlanner interface {
	CreatePlan(ctx context.Context, req followup.Request) (*followup.Plan, error)
}

// Broadcaster fans messages out to a group. *websocket.Hub satisfies it.
type Broadcaster interface {
	Broadcast(group string, msg interface{})
}

type stageOutputs struct {
	analysis *Analysis
	decision *scheduling.Decision
	triage   *triage.Assessment
	plan     *followup.Plan
}

// Orchestrator runs Analysis, Scheduling, Triage and FollowUp over a case,
// in that order, stopping at the first failing stage. It never mutates the
// case; a completed run carries the Changeset to apply.
type Orchestrator struct {
	analyzer  *Analyzer
	scheduler Scheduler
	triager   Triager
	followups FollowUpPlanner
	hub       Broadcaster
	logger    zerolog.Logger
	now       func() time.Time
}

func NewOrchestrator(analyzer *Analyzer, scheduler Scheduler, triager Triager, followups FollowUpPlanner, hub Broadcaster, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		analyzer:  analyzer,
		scheduler: scheduler,
		triager:   triager,
		followups: followups,
		hub:       hub,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		now:       time.Now,
	}
}

// Run executes every stage over c and returns the finished run. Stage
// failures are recorded on the run, not returned.
func (o *Orchestrator) Run(ctx context.Context, c *Case) *WorkflowRun {
	run := &WorkflowRun{
		ID:          uuid.New().String(),
		CaseID:      c.ID,
		ClinicID:    c.ClinicID,
		Stages:      []StageRecord{},
		FinalStatus: RunInProgress,
		StartedAt:   o.now().UTC(),
	}
	log := o.logger.With().Str("run_id", run.ID).Str("case_id", c.ID).Logger()
	log.Info().Msg("workflow started")

	var out stageOutputs
	stages := []struct {
		name string
		fn   func(context.Context, *Case, *stageOutputs) (interface{}, error)
	}{
		{StageAnalysis, o.analyze},
		{StageScheduling, o.schedule},
		{StageTriage, o.triageCase},
		{StageFollowUp, o.planFollowUp},
	}

	for i, st := range stages {
		progress := (i + 1) * 100 / len(stages)
		result, err := st.fn(ctx, c, &out)
		if err != nil {
			serr := &StageError{Stage: st.name, Err: err}
			run.Stages = append(run.Stages, StageRecord{
				Stage:     i + 1,
				Name:      st.name,
				Status:    StageFailed,
				Result:    map[string]string{"error": err.Error()},
				Timestamp: o.now().UTC(),
			})
			run.FinalStatus = RunError
			run.FailedStage = st.name
			run.Error = serr.Error()
			o.finish(run)
			log.Error().Err(serr).Msg("workflow failed")
			o.emit(c.ClinicID, websocket.StatusMessage{
				Type:      "status",
				Stage:     st.name,
				Progress:  progress,
				RefID:     c.ID,
				Status:    StageFailed,
				Message:   err.Error(),
				Timestamp: o.now().UTC(),
			})
			return run
		}
		run.Stages = append(run.Stages, StageRecord{
			Stage:     i + 1,
			Name:      st.name,
			Status:    StageCompleted,
			Result:    result,
			Timestamp: o.now().UTC(),
		})
		log.Info().Str("stage", st.name).Msg("stage completed")

		msg := websocket.NewStatus(c.ID, st.name, progress)
		msg.Status = StageCompleted
		o.emit(c.ClinicID, msg)
	}

	run.Summary = summarize(out)
	run.Changeset = o.changeset(out)
	run.FinalStatus = RunCompleted
	o.finish(run)

	if out.analysis.Tier == rules.Critical || out.triage.Escalation.Needed {
		o.emit(c.ClinicID, websocket.NewAlert(c.ID, out.analysis.Tier.String(), map[string]interface{}{
			"urgency":    out.analysis.Tier,
			"red_flags":  out.analysis.RedFlags,
			"care_level": out.triage.CareLevel,
			"department": out.triage.Department.Code,
			"escalation": out.triage.Escalation,
		}))
	}
	log.Info().
		Str("urgency", out.analysis.Tier.String()).
		Int("care_level", out.triage.CareLevel).
		Msg("workflow completed")
	return run
}

func (o *Orchestrator) finish(run *WorkflowRun) {
	t := o.now().UTC()
	run.FinishedAt = &t
}

func (o *Orchestrator) emit(group string, msg interface{}) {
	if o.hub == nil || group == "" {
		return
	}
	o.hub.Broadcast(group, msg)
}

func (o *Orchestrator) analyze(_ context.Context, c *Case, out *stageOutputs) (interface{}, error) {
	out.analysis = o.analyzer.Analyze(c)
	return out.analysis, nil
}

func (o *Orchestrator) schedule(ctx context.Context, c *Case, out *stageOutputs) (interface{}, error) {
	d, err := o.scheduler.Schedule(ctx, scheduling.Request{
		CaseID:        c.ID,
		PatientRef:    c.PatientRef,
		Tier:          out.analysis.Tier,
		Score:         out.analysis.Score,
		PreferredDate: c.PreferredDate,
		PreferredTime: c.PreferredTime,
		Symptoms:      c.Symptoms,
		Conditions:    out.analysis.TopConditions(5),
	})
	if err != nil {
		return nil, err
	}
	out.decision = d
	return d, nil
}

func (o *Orchestrator) triageCase(ctx context.Context, c *Case, out *stageOutputs) (interface{}, error) {
	a, err := o.triager.Assess(ctx, triage.Request{
		CaseID:     c.ID,
		ClinicID:   c.ClinicID,
		Symptoms:   c.Symptoms,
		Detail:     c.Detail,
		Conditions: out.analysis.TopConditions(5),
		Tier:       out.analysis.Tier,
		Score:      out.analysis.Score,
	})
	if err != nil {
		return nil, err
	}
	out.triage = a
	return a, nil
}

func (o *Orchestrator) planFollowUp(ctx context.Context, c *Case, out *stageOutputs) (interface{}, error) {
	p, err := o.followups.CreatePlan(ctx, followup.Request{
		CaseID:     c.ID,
		ClinicID:   c.ClinicID,
		PatientRef: c.PatientRef,
		DoctorID:   out.decision.Doctor.ID,
		Tier:       out.analysis.Tier,
		Conditions: out.analysis.TopConditions(5),
		VisitDate:  out.decision.Date,
	})
	if err != nil {
		return nil, err
	}
	out.plan = p
	return p, nil
}

func summarize(out stageOutputs) *Summary {
	recs := out.analysis.Recommendations
	if len(recs) > 3 {
		recs = recs[:3]
	}
	return &Summary{
		Urgency:             out.analysis.Tier,
		PossibleConditions:  out.analysis.TopConditions(3),
		ScheduledFor:        fmt.Sprintf("%s at %s", out.decision.Date, out.decision.Time),
		AssignedDoctor:      out.decision.Doctor.Name,
		CareLevel:           out.triage.CareLevel,
		Department:          out.triage.Department.Name,
		FollowUpCount:       len(out.plan.Schedule),
		Recommendations:     recs,
		NotificationsQueued: len(out.decision.Notifications),
		AutoActionsTaken:    len(out.analysis.AutoActions),
	}
}

func (o *Orchestrator) changeset(out stageOutputs) *Changeset {
	return &Changeset{
		Status:        StatusScheduled,
		Urgency:       out.analysis.Tier,
		ScheduledDate: out.decision.Date,
		ScheduledTime: out.decision.Time,
		DoctorID:      out.decision.Doctor.ID,
		DoctorName:    out.decision.Doctor.Name,
		CareLevel:     out.triage.CareLevel,
		Department:    out.triage.Department.Code,
		PriorityScore: out.decision.Priority,
		ProcessedAt:   o.now().UTC(),
	}
}
