package scheduling

import (
	"context"
	"sync"
	"time"
)

// Chooser picks a slot given the slots already taken on a date.
type Chooser func(taken []string) (string, error)

// Ledger records taken appointment slots per date. Reserve is an atomic
// read-modify-write: no other reservation for the same date can observe the
// ledger between choose reading it and the chosen slot being recorded.
type Ledger interface {
	Reserve(ctx context.Context, date, caseID string, choose Chooser) (string, error)
	Taken(ctx context.Context, date string) ([]string, error)
	ReleaseCase(ctx context.Context, caseID string) (int, error)
}

// MemoryLedger is a process-local Ledger guarded by a mutex.
type MemoryLedger struct {
	mu    sync.Mutex
	dates map[string][]Reservation
	now   func() time.Time
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{dates: make(map[string][]Reservation), now: time.Now}
}

func (l *MemoryLedger) Reserve(_ context.Context, date, caseID string, choose Chooser) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, err := choose(slotsOf(l.dates[date]))
	if err != nil {
		return "", err
	}
	l.dates[date] = append(l.dates[date], Reservation{
		Date:      date,
		Slot:      slot,
		CaseID:    caseID,
		CreatedAt: l.now().UTC(),
	})
	return slot, nil
}

func (l *MemoryLedger) Taken(_ context.Context, date string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slotsOf(l.dates[date]), nil
}

// ReleaseCase frees every slot held by caseID.
func (l *MemoryLedger) ReleaseCase(_ context.Context, caseID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	released := 0
	for date, list := range l.dates {
		kept := list[:0]
		for _, r := range list {
			if r.CaseID == caseID {
				released++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(l.dates, date)
		} else {
			l.dates[date] = kept
		}
	}
	return released, nil
}

func slotsOf(list []Reservation) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.Slot)
	}
	return out
}
