package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/domain/rules"
)

func newTestService() (*Service, *MemoryQueue) {
	q := NewMemoryQueue()
	return NewService(rules.MustDefault(), q, zerolog.Nop()), q
}

func TestAssess_CriticalChestPain(t *testing.T) {
	svc, _ := newTestService()
	a, err := svc.Assess(context.Background(), Request{
		CaseID:   "c1",
		ClinicID: "clinic-a",
		Symptoms: []string{"chest pain", "shortness of breath"},
		Detail:   "severe, since morning",
		Tier:     rules.Critical,
		Score:    10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.CareLevel != 1 || a.Level.Name != "Resuscitation" {
		t.Errorf("expected care level 1, got %d (%s)", a.CareLevel, a.Level.Name)
	}
	if a.Department.Code != rules.Cardiac {
		t.Errorf("expected cardiac, got %s", a.Department.Code)
	}
	if !a.Escalation.Needed || a.Escalation.Type != EscalateEmergencyTeam || a.Escalation.Trigger != "chest pain" {
		t.Errorf("expected emergency team escalation, got %+v", a.Escalation)
	}
	if a.QueuePosition != 1 {
		t.Errorf("expected position 1, got %d", a.QueuePosition)
	}

	want := []string{"ADD_TO_QUEUE", "NOTIFY", "NOTIFY", "PREPARE_RESUSCITATION", "UPDATE_PATIENT_RECORD"}
	if len(a.Actions) != len(want) {
		t.Fatalf("expected %d actions, got %+v", len(want), a.Actions)
	}
	for i, w := range want {
		if a.Actions[i].Action != w {
			t.Errorf("action %d: expected %s, got %s", i, w, a.Actions[i].Action)
		}
	}
	expectedNotes := "Patient presents with: chest pain, shortness of breath | Assessment: CRITICAL urgency | " +
		"Assigned Care Level: 1 (Resuscitation) | Routed to: Cardiac Department | Requires immediate medical attention"
	if a.Notes != expectedNotes {
		t.Errorf("unexpected notes:\n%s", a.Notes)
	}
}

func TestAssess_MildHeadache(t *testing.T) {
	svc, _ := newTestService()
	a, err := svc.Assess(context.Background(), Request{
		CaseID:   "c2",
		ClinicID: "clinic-a",
		Symptoms: []string{"mild headache"},
		Tier:     rules.Low,
		Score:    2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.CareLevel != 5 {
		t.Errorf("expected care level 5, got %d", a.CareLevel)
	}
	if a.Department.Code != rules.Neuro {
		t.Errorf("expected neuro, got %s", a.Department.Code)
	}
	if a.Escalation.Needed {
		t.Errorf("expected no escalation, got %+v", a.Escalation)
	}
	if len(a.Actions) != 2 {
		t.Errorf("expected queue and record actions only, got %+v", a.Actions)
	}
	if a.WaitMinutes != 120 {
		t.Errorf("expected 120 minute wait, got %d", a.WaitMinutes)
	}
}

func TestEscalate(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name   string
		level  int
		text   string
		needed bool
		typ    string
		notify int
	}{
		{"level 1", 1, "fever", true, EscalateSeniorDoctor, 3},
		{"level 2", 2, "fever", true, EscalateOnCallDoctor, 2},
		{"level 3", 3, "fever", false, "", 0},
		{"phrase overrides level", 4, "patient was unconscious briefly", true, EscalateEmergencyTeam, 2},
		{"phrase overrides level 1", 1, "severe bleeding from wound", true, EscalateEmergencyTeam, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			esc := svc.Escalate(tt.level, tt.text)
			if esc.Needed != tt.needed || esc.Type != tt.typ || len(esc.Notify) != tt.notify {
				t.Errorf("unexpected escalation %+v", esc)
			}
		})
	}
}

func TestRoute_Default(t *testing.T) {
	svc, _ := newTestService()
	r := svc.Route([]string{"tiredness"}, nil)
	if r.Code != rules.General || r.Name != "General Medicine" || r.MatchedKeywords == nil {
		t.Errorf("unexpected routing %+v", r)
	}
	r = svc.Route([]string{"tiredness"}, []string{"Pneumonia"})
	if r.Code != rules.Respiratory {
		t.Errorf("expected condition names to route, got %s", r.Code)
	}
}

func TestQueue_InsertOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	insert := func(id string, level int) int {
		pos, err := q.Insert(ctx, Entry{CaseID: id, ClinicID: "a", CareLevel: level})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return pos
	}

	if p := insert("l3", 3); p != 1 {
		t.Errorf("expected 1, got %d", p)
	}
	if p := insert("l5", 5); p != 2 {
		t.Errorf("expected 2, got %d", p)
	}
	if p := insert("l1", 1); p != 1 {
		t.Errorf("expected 1, got %d", p)
	}
	if p := insert("l3b", 3); p != 3 {
		t.Errorf("expected equal level after earlier arrivals, got %d", p)
	}

	entries, _ := q.Snapshot(ctx, "a")
	var order []string
	for _, e := range entries {
		order = append(order, e.CaseID)
	}
	if fmt.Sprint(order) != "[l1 l3 l3b l5]" {
		t.Errorf("unexpected order %v", order)
	}

	other, _ := q.Snapshot(ctx, "b")
	if len(other) != 0 {
		t.Errorf("expected clinics to be isolated, got %v", other)
	}
}

func TestQueue_ConcurrentInserts(t *testing.T) {
	q := NewMemoryQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Insert(context.Background(), Entry{CaseID: fmt.Sprintf("c%d", i), ClinicID: "a", CareLevel: i%5 + 1})
		}(i)
	}
	wg.Wait()

	entries, _ := q.Snapshot(context.Background(), "a")
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].CareLevel > entries[i].CareLevel {
			t.Fatalf("queue out of order at %d: %d > %d", i, entries[i-1].CareLevel, entries[i].CareLevel)
		}
	}
}

func TestStatusAndMarkSeen(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		svc.Assess(ctx, Request{CaseID: fmt.Sprintf("c%d", i), ClinicID: "a", Symptoms: []string{"cough"}, Tier: rules.Medium})
	}
	svc.Assess(ctx, Request{CaseID: "urgent", ClinicID: "a", Symptoms: []string{"cough"}, Tier: rules.High})

	st, err := svc.Status(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Total != 13 || st.ByLevel[3] != 12 || st.ByLevel[2] != 1 || st.ByLevel[5] != 0 {
		t.Errorf("unexpected status %+v", st)
	}
	if len(st.Top) != 10 || st.Top[0].CaseID != "urgent" {
		t.Errorf("expected top 10 led by the urgent case, got %d entries", len(st.Top))
	}

	if err := svc.MarkSeen(ctx, "urgent"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.MarkSeen(ctx, "urgent"); !errors.Is(err, ErrNotQueued) {
		t.Errorf("expected ErrNotQueued, got %v", err)
	}
	if err := svc.Withdraw(ctx, "missing"); err != nil {
		t.Errorf("expected withdraw of unknown case to succeed, got %v", err)
	}
	st, _ = svc.Status(ctx, "a")
	if st.Total != 12 {
		t.Errorf("expected 12 after removal, got %d", st.Total)
	}
}

type failingQueue struct{ *MemoryQueue }

func (failingQueue) Insert(context.Context, Entry) (int, error) {
	return 0, errors.New("connection reset")
}

func TestAssess_QueueFailure(t *testing.T) {
	svc := NewService(rules.MustDefault(), failingQueue{NewMemoryQueue()}, zerolog.Nop())
	if _, err := svc.Assess(context.Background(), Request{CaseID: "c", Tier: rules.Low}); err == nil {
		t.Fatal("expected queue error")
	}
}
