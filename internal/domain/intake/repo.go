package intake

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/nidaan/triage/pkg/pagination"
)

// MutateCaseFunc changes a case inside Mutate. An error leaves the stored
// case untouched and is returned by Mutate.
type MutateCaseFunc func(c *Case) error

// CaseRepository stores cases. Mutate is an atomic read-modify-write on one
// case.
type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id string) (*Case, error)
	Mutate(ctx context.Context, id string, fn MutateCaseFunc) (*Case, error)
	ListByClinic(ctx context.Context, clinicID, status string, limit, offset int) ([]*Case, int, error)
}

type RunRepository interface {
	Create(ctx context.Context, r *WorkflowRun) error
	GetByID(ctx context.Context, id string) (*WorkflowRun, error)
	ListByClinic(ctx context.Context, clinicID string, limit, offset int) ([]*WorkflowRun, int, error)
	ListByCase(ctx context.Context, caseID string) ([]*WorkflowRun, error)
	CountByStatus(ctx context.Context, clinicID string) (map[string]int, error)
}

func clone[T any](v *T) *T {
	data, _ := json.Marshal(v)
	var out T
	_ = json.Unmarshal(data, &out)
	return &out
}

// MemoryCaseRepo keeps cases in memory.
type MemoryCaseRepo struct {
	mu    sync.RWMutex
	cases map[string]*Case
}

func NewMemoryCaseRepo() *MemoryCaseRepo {
	return &MemoryCaseRepo{cases: make(map[string]*Case)}
}

func (r *MemoryCaseRepo) Create(_ context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases[c.ID] = clone(c)
	return nil
}

func (r *MemoryCaseRepo) GetByID(_ context.Context, id string) (*Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryCaseRepo) Mutate(_ context.Context, id string, fn MutateCaseFunc) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	r.cases[id] = clone(next)
	return next, nil
}

func (r *MemoryCaseRepo) ListByClinic(_ context.Context, clinicID, status string, limit, offset int) ([]*Case, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Case
	for _, c := range r.cases {
		if c.ClinicID == clinicID && (status == "" || c.Status == status) {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	page := pagination.Page(all, pagination.Params{Limit: limit, Offset: offset})
	out := make([]*Case, 0, len(page))
	for _, c := range page {
		out = append(out, clone(c))
	}
	return out, len(all), nil
}

// MemoryRunRepo keeps workflow runs in memory in insertion order.
type MemoryRunRepo struct {
	mu   sync.RWMutex
	runs []*WorkflowRun
}

func NewMemoryRunRepo() *MemoryRunRepo {
	return &MemoryRunRepo{}
}

func (r *MemoryRunRepo) Create(_ context.Context, run *WorkflowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, clone(run))
	return nil
}

func (r *MemoryRunRepo) GetByID(_ context.Context, id string) (*WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, run := range r.runs {
		if run.ID == id {
			return clone(run), nil
		}
	}
	return nil, ErrNotFound
}

// ListByClinic returns the most recent runs first.
func (r *MemoryRunRepo) ListByClinic(_ context.Context, clinicID string, limit, offset int) ([]*WorkflowRun, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*WorkflowRun
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].ClinicID == clinicID {
			all = append(all, r.runs[i])
		}
	}
	page := pagination.Page(all, pagination.Params{Limit: limit, Offset: offset})
	out := make([]*WorkflowRun, 0, len(page))
	for _, run := range page {
		out = append(out, clone(run))
	}
	return out, len(all), nil
}

func (r *MemoryRunRepo) ListByCase(_ context.Context, caseID string) ([]*WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*WorkflowRun{}
	for _, run := range r.runs {
		if run.CaseID == caseID {
			out = append(out, clone(run))
		}
	}
	return out, nil
}

func (r *MemoryRunRepo) CountByStatus(_ context.Context, clinicID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{RunInProgress: 0, RunCompleted: 0, RunError: 0}
	for _, run := range r.runs {
		if run.ClinicID == clinicID {
			out[run.FinalStatus]++
		}
	}
	return out, nil
}
