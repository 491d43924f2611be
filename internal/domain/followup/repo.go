package followup

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/nidaan/triage/pkg/pagination"
)

type PlanRepository interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id string) (*Plan, error)
	GetByCase(ctx context.Context, caseID string) (*Plan, error)
	Update(ctx context.Context, p *Plan) error
	ListByClinic(ctx context.Context, clinicID string, limit, offset int) ([]*Plan, int, error)
	// ListDue returns scheduled entries due on or before date.
	ListDue(ctx context.Context, clinicID, date string) ([]Pending, error)
}

// MemoryRepo keeps plans in memory. Plans are stored as copies so callers
// never share state with the store.
type MemoryRepo struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{plans: make(map[string]*Plan)}
}

func clonePlan(p *Plan) *Plan {
	data, _ := json.Marshal(p)
	var out Plan
	_ = json.Unmarshal(data, &out)
	return &out
}

func (r *MemoryRepo) Create(_ context.Context, p *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = clonePlan(p)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlan(p), nil
}

func (r *MemoryRepo) GetByCase(_ context.Context, caseID string) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plans {
		if p.CaseID == caseID {
			return clonePlan(p), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) Update(_ context.Context, p *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[p.ID]; !ok {
		return ErrNotFound
	}
	r.plans[p.ID] = clonePlan(p)
	return nil
}

func (r *MemoryRepo) sorted(clinicID string) []*Plan {
	var out []*Plan
	for _, p := range r.plans {
		if p.ClinicID == clinicID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepo) ListByClinic(_ context.Context, clinicID string, limit, offset int) ([]*Plan, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.sorted(clinicID)
	page := pagination.Page(all, pagination.Params{Limit: limit, Offset: offset})
	out := make([]*Plan, 0, len(page))
	for _, p := range page {
		out = append(out, clonePlan(p))
	}
	return out, len(all), nil
}

func (r *MemoryRepo) ListDue(_ context.Context, clinicID, date string) ([]Pending, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Pending{}
	for _, p := range r.sorted(clinicID) {
		for _, e := range p.Schedule {
			if e.Status == StatusScheduled && e.Date <= date {
				out = append(out, Pending{PlanID: p.ID, CaseID: p.CaseID, PatientRef: p.PatientRef, Entry: e})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
