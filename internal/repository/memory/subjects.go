package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// SubjectRepo stores subjects and the engine-owned derived fields.
type SubjectRepo struct {
	mu   sync.RWMutex
	byID map[string]domain.Subject
}

func NewSubjectRepo() *SubjectRepo {
	return &SubjectRepo{byID: make(map[string]domain.Subject)}
}

// Put inserts or replaces identity fields, keeping derived fields.
func (r *SubjectRepo) Put(_ context.Context, s domain.Subject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[s.ID]; ok {
		s.Score, s.Tier, s.AssignedResource = cur.Score, cur.Tier, cur.AssignedResource
	}
	r.byID[s.ID] = s
	return nil
}

func (r *SubjectRepo) Get(_ context.Context, id string) (*domain.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *SubjectRepo) List(_ context.Context) ([]domain.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subject, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateDerived caches score and tier. Unknown subjects are created as
// bare leads so the cache is never lost.
func (r *SubjectRepo) UpdateDerived(_ context.Context, id string, score domain.Score) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		s = domain.Subject{ID: id, Category: domain.SubjectLead}
	}
	v := score.Value
	s.Score = &v
	s.Tier = score.Tier
	r.byID[id] = s
	return nil
}

func (r *SubjectRepo) AssignedResource(_ context.Context, id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id].AssignedResource, nil
}

func (r *SubjectRepo) SetAssignedResource(_ context.Context, id, resourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		s = domain.Subject{ID: id, Category: domain.SubjectLead}
	}
	s.AssignedResource = resourceID
	r.byID[id] = s
	return nil
}
