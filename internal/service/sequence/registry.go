package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

const DefaultCacheTTL = 5 * time.Minute

// Registry caches definitions from a Source. It is safe for concurrent use.
type Registry struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	loadMu   sync.Mutex
	mu       sync.RWMutex
	byID     map[string]domain.SequenceDefinition
	invalid  map[string]error
	order    []string
	loadedAt time.Time
	loaded   bool
}

func NewRegistry(source Source) *Registry {
	return &Registry{source: source, ttl: DefaultCacheTTL, now: time.Now}
}

// SetTTL sets how long a load is served before the source is read again.
// Zero re-reads on every call.
func (r *Registry) SetTTL(ttl time.Duration) {
	if ttl >= 0 {
		r.ttl = ttl
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Reload reads the source now. On failure the previous snapshot is kept.
func (r *Registry) Reload(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	return r.load(ctx)
}

func (r *Registry) load(ctx context.Context) error {
	defs, err := r.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sequences: %w", err)
	}

	byID := make(map[string]domain.SequenceDefinition, len(defs))
	invalid := make(map[string]error)
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		if verr := def.Validate(); verr != nil {
			key := def.ID
			if key == "" {
				key = "<unnamed:" + def.Name + ">"
			}
			invalid[key] = verr
			logger.Warn("sequence: invalid definition excluded", "sequence_id", key, "error", verr.Error())
			continue
		}
		if _, dup := byID[def.ID]; dup {
			invalid[def.ID] = fmt.Errorf("duplicate sequence id %q", def.ID)
			logger.Warn("sequence: duplicate id excluded", "sequence_id", def.ID)
			continue
		}
		byID[def.ID] = def
		order = append(order, def.ID)
	}
	// A duplicated id is ambiguous; drop every copy.
	for id := range invalid {
		if _, ok := byID[id]; ok {
			delete(byID, id)
		}
	}
	kept := order[:0]
	for _, id := range order {
		if _, ok := byID[id]; ok {
			kept = append(kept, id)
		}
	}
	sort.Strings(kept)

	r.mu.Lock()
	r.byID = byID
	r.invalid = invalid
	r.order = kept
	r.loadedAt = r.now()
	r.loaded = true
	r.mu.Unlock()

	logger.Debug("sequence: registry loaded", "valid", len(byID), "invalid", len(invalid))
	return nil
}

// ensure refreshes the cache when it is missing or older than the TTL. A
// failed refresh keeps serving the stale snapshot.
func (r *Registry) ensure(ctx context.Context) error {
	r.mu.RLock()
	fresh := r.loaded && r.now().Sub(r.loadedAt) < r.ttl
	r.mu.RUnlock()
	if fresh {
		return nil
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.mu.RLock()
	fresh = r.loaded && r.now().Sub(r.loadedAt) < r.ttl
	loaded := r.loaded
	r.mu.RUnlock()
	if fresh {
		return nil
	}
	if err := r.load(ctx); err != nil {
		if loaded {
			logger.Warn("sequence: refresh failed, serving cached definitions", "error", err.Error())
			return nil
		}
		return err
	}
	return nil
}

// Resolve returns every active, valid definition whose trigger matches
// fired, ordered by id.
func (r *Registry) Resolve(ctx context.Context, fired domain.Trigger) ([]domain.SequenceDefinition, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SequenceDefinition
	for _, id := range r.order {
		def := r.byID[id]
		if def.Active && domain.TriggerMatches(def.Trigger, fired) {
			out = append(out, def)
		}
	}
	return out, nil
}

// Get returns one valid definition, active or not.
func (r *Registry) Get(ctx context.Context, id string) (*domain.SequenceDefinition, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.byID[id]; ok {
		return &def, nil
	}
	if verr, ok := r.invalid[id]; ok {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, id, verr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns every valid definition ordered by id.
func (r *Registry) List(ctx context.Context) ([]domain.SequenceDefinition, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SequenceDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out, nil
}

// Invalid returns the validation error of every excluded definition.
func (r *Registry) Invalid() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.invalid))
	for k, v := range r.invalid {
		out[k] = v
	}
	return out
}
