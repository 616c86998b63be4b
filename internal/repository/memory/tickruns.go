package memory

import (
	"context"
	"sync"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// TickRunRepo keeps tick summaries in insertion order.
type TickRunRepo struct {
	mu   sync.RWMutex
	runs []domain.TickSummary
}

func NewTickRunRepo() *TickRunRepo { return &TickRunRepo{} }

func (r *TickRunRepo) Record(_ context.Context, s domain.TickSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
	return nil
}

// Recent returns up to limit summaries of kind, newest first. An empty kind
// matches all.
func (r *TickRunRepo) Recent(_ context.Context, kind string, limit int) ([]domain.TickSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.TickSummary
	for i := len(r.runs) - 1; i >= 0; i-- {
		if kind != "" && r.runs[i].Kind != kind {
			continue
		}
		out = append(out, r.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
