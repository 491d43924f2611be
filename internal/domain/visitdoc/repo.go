package visitdoc

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/nidaan/triage/pkg/pagination"
)

// MutateFunc changes a visit inside an atomic read-modify-write. Returning
// an error leaves the stored visit untouched.
type MutateFunc func(v *Visit) error

type VisitRepository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id string) (*Visit, error)
	ListByClinic(ctx context.Context, clinicID string, limit, offset int) ([]*Visit, int, error)
	// Mutate loads the visit, applies fn and stores the result as one
	// atomic step.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*Visit, error)
}

// MemoryRepo keeps visits in memory.
type MemoryRepo struct {
	mu     sync.Mutex
	visits map[string]*Visit
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{visits: make(map[string]*Visit)}
}

func cloneVisit(v *Visit) *Visit {
	data, _ := json.Marshal(v)
	var out Visit
	_ = json.Unmarshal(data, &out)
	return &out
}

func (r *MemoryRepo) Create(_ context.Context, v *Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visits[v.ID] = cloneVisit(v)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneVisit(v), nil
}

func (r *MemoryRepo) ListByClinic(_ context.Context, clinicID string, limit, offset int) ([]*Visit, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*Visit
	for _, v := range r.visits {
		if v.ClinicID == clinicID {
			all = append(all, v)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	page := pagination.Page(all, pagination.Params{Limit: limit, Offset: offset})
	out := make([]*Visit, 0, len(page))
	for _, v := range page {
		out = append(out, cloneVisit(v))
	}
	return out, len(all), nil
}

func (r *MemoryRepo) Mutate(_ context.Context, id string, fn MutateFunc) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	v := cloneVisit(cur)
	if err := fn(v); err != nil {
		return nil, err
	}
	r.visits[id] = cloneVisit(v)
	return v, nil
}
