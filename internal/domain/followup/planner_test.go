package followup

import (
	"testing"
	"time"

	"github.com/nidaan/triage/internal/domain/rules"
)

var visit = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func TestSchedule_Cadence(t *testing.T) {
	rs := rules.MustDefault()
	for _, tier := range rules.Tiers {
		rule := rs.FollowUpRule(tier)
		got := Schedule(visit, rule)
		if len(got) != rule.Total {
			t.Fatalf("%s: expected %d entries, got %d", tier, rule.Total, len(got))
		}
		for k, e := range got {
			want := visit.AddDate(0, 0, rule.InitialDays+k*rule.IntervalDays).Format(dateLayout)
			if e.Date != want {
				t.Errorf("%s entry %d: expected %s, got %s", tier, k+1, want, e.Date)
			}
			if e.Sequence != k+1 || e.Status != StatusScheduled {
				t.Errorf("%s entry %d: unexpected %+v", tier, k+1, e)
			}
		}
		if got[0].Type != "check_in" || got[0].Priority != "high" {
			t.Errorf("%s: first entry should be a high priority check-in, got %+v", tier, got[0])
		}
	}
}

func TestSchedule_HighTier(t *testing.T) {
	got := Schedule(visit, rules.MustDefault().FollowUpRule(rules.High))
	want := []string{"2026-03-11", "2026-03-13", "2026-03-15", "2026-03-17", "2026-03-19"}
	for i, d := range want {
		if got[i].Date != d {
			t.Errorf("entry %d: expected %s, got %s", i+1, d, got[i].Date)
		}
	}
}

func TestReminders(t *testing.T) {
	rule := rules.MustDefault().FollowUpRule(rules.Medium)
	schedule := Schedule(visit, rule)
	got := Reminders("Asha", schedule, rule.Channels)

	if len(got) != rule.Total*len(rule.Channels) {
		t.Fatalf("expected %d reminders, got %d", rule.Total*len(rule.Channels), len(got))
	}
	if got[0].SendDate != "2026-03-12" {
		t.Errorf("expected first reminder the day before 2026-03-13, got %s", got[0].SendDate)
	}
	if got[0].Channel != "sms" || got[0].Message != "Hi Asha, your follow-up is scheduled for 2026-03-13. Reply YES to confirm." {
		t.Errorf("unexpected sms reminder %+v", got[0])
	}
	if got[1].Channel != "email" || got[1].Message != "Dear Asha, this is a reminder about your scheduled follow-up appointment." {
		t.Errorf("unexpected email reminder %+v", got[1])
	}
}

func TestInstructions(t *testing.T) {
	low := Instructions(rules.Low, nil)
	if len(low) != 3 {
		t.Errorf("expected 3 general instructions, got %d", len(low))
	}

	high := Instructions(rules.High, []string{"Viral Fever", "Respiratory Infection", "Gastroenteritis"})
	if len(high) != 7 {
		t.Fatalf("expected 7 instructions, got %d: %+v", len(high), high)
	}
	if high[4].Priority != "critical" {
		t.Errorf("expected the emergency instruction, got %+v", high[4])
	}
	for _, in := range high {
		if in.Instruction == "Follow BRAT diet (Bananas, Rice, Applesauce, Toast)" {
			t.Error("only the top two conditions should add instructions")
		}
	}

	dup := Instructions(rules.Low, []string{"Viral Fever", "Fever"})
	if len(dup) != 4 {
		t.Errorf("expected duplicate condition instruction once, got %d", len(dup))
	}
}

func TestMonitoringFor(t *testing.T) {
	low := MonitoringFor(rules.Low, nil)
	if low.Frequency != "daily" || low.PhotoDocumentation || len(low.Vitals) != 3 {
		t.Errorf("unexpected low monitoring %+v", low)
	}

	crit := MonitoringFor(rules.Critical, []string{"Cardiac Event", "Respiratory Infection"})
	if crit.Frequency != "every_4_hours" || !crit.PhotoDocumentation {
		t.Errorf("unexpected critical monitoring %+v", crit)
	}
	want := map[string]bool{"oxygen_saturation": true, "respiratory_rate": true, "ecg_if_available": true, "peak_flow": true}
	for _, v := range crit.Vitals {
		delete(want, v)
	}
	if len(want) != 0 {
		t.Errorf("missing vitals %v in %v", want, crit.Vitals)
	}
}

func TestTriggers(t *testing.T) {
	hasOxygen := func(ts []Trigger) bool {
		for _, tr := range ts {
			if tr.Trigger == "oxygen_below_94" {
				return true
			}
		}
		return false
	}
	for _, tier := range rules.Tiers {
		got := Triggers(tier)
		if hasOxygen(got) != tier.Urgent() {
			t.Errorf("%s: oxygen trigger present=%v", tier, hasOxygen(got))
		}
	}
}

func TestAnalyze(t *testing.T) {
	p := NewPlanner(rules.MustDefault())
	tests := []struct {
		response   string
		outcome    string
		escalation bool
	}{
		{"I feel much better today", OutcomeImproving, false},
		{"Still not better, pain increased overnight", OutcomeConcerning, true},
		{"About the same", OutcomeStable, false},
		{"Breathing difficulty when walking", OutcomeConcerning, true},
	}
	for _, tc := range tests {
		t.Run(tc.response, func(t *testing.T) {
			a := p.Analyze(tc.response)
			if a.Outcome != tc.outcome || a.EscalationNeeded != tc.escalation {
				t.Errorf("expected %s/%v, got %+v", tc.outcome, tc.escalation, a)
			}
		})
	}
}

func TestBuild_VisitDateOverride(t *testing.T) {
	p := NewPlanner(rules.MustDefault()).Build(Request{CaseID: "c1", Tier: rules.Low, VisitDate: "2026-04-01"}, visit)
	if p.VisitDate != "2026-04-01" {
		t.Errorf("expected visit date override, got %s", p.VisitDate)
	}
	if p.Schedule[0].Date != "2026-04-08" {
		t.Errorf("expected first follow-up a week later, got %s", p.Schedule[0].Date)
	}
	if p.Status != StatusActive || p.CheckIns == nil {
		t.Errorf("unexpected plan %+v", p)
	}
}
