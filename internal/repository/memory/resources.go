package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// ResourceRepo implements routing.ResourceRepository.
type ResourceRepo struct {
	mu   sync.RWMutex
	rows map[string]domain.Resource
}

func NewResourceRepo(resources ...domain.Resource) *ResourceRepo {
	r := &ResourceRepo{rows: make(map[string]domain.Resource)}
	for _, res := range resources {
		r.rows[res.ID] = res
	}
	return r
}

func (r *ResourceRepo) Put(_ context.Context, res domain.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[res.ID] = res
	return nil
}

func (r *ResourceRepo) ListActive(_ context.Context) ([]domain.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Resource
	for _, res := range r.rows {
		if res.Active {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
