package triage

import (
	"context"
	"sync"
	"time"
)

// Queue holds each clinic's waiting cases ordered by care level, most urgent
// first; cases of equal level keep arrival order.
type Queue interface {
	// Insert places e before the first entry with a strictly larger care
	// level and returns its 1-based position.
	Insert(ctx context.Context, e Entry) (int, error)
	Snapshot(ctx context.Context, clinicID string) ([]Entry, error)
	Remove(ctx context.Context, caseID string) (bool, error)
}

// MemoryQueue is a process-local Queue guarded by a mutex.
type MemoryQueue struct {
	mu      sync.Mutex
	clinics map[string][]Entry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{clinics: make(map[string][]Entry)}
}

func (q *MemoryQueue) Insert(_ context.Context, e Entry) (int, error) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.clinics[e.ClinicID]
	pos := len(list)
	for i, existing := range list {
		if existing.CareLevel > e.CareLevel {
			pos = i
			break
		}
	}
	list = append(list, Entry{})
	copy(list[pos+1:], list[pos:])
	list[pos] = e
	q.clinics[e.ClinicID] = list
	return pos + 1, nil
}

func (q *MemoryQueue) Snapshot(_ context.Context, clinicID string) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.clinics[clinicID]))
	copy(out, q.clinics[clinicID])
	return out, nil
}

func (q *MemoryQueue) Remove(_ context.Context, caseID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for clinic, list := range q.clinics {
		for i, e := range list {
			if e.CaseID == caseID {
				q.clinics[clinic] = append(list[:i], list[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}
