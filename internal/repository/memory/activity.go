package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Unit is one lesson of the program, in delivery order.
type Unit struct {
	ID    string
	Title string
}

type completion struct {
	unitID string
	at     time.Time
}

// ActivityStore implements nudge.ActivitySource over recorded logins and
// unit completions.
type ActivityStore struct {
	mu          sync.RWMutex
	subjects    *SubjectRepo
	units       []Unit
	logins      map[string]time.Time
	completions map[string][]completion
}

func NewActivityStore(subjects *SubjectRepo, units ...Unit) *ActivityStore {
	return &ActivityStore{
		subjects:    subjects,
		units:       units,
		logins:      make(map[string]time.Time),
		completions: make(map[string][]completion),
	}
}

// RecordLogin keeps the latest login per subject.
func (a *ActivityStore) RecordLogin(subjectID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.logins[subjectID]; !ok || at.After(prev) {
		a.logins[subjectID] = at
	}
}

// RecordCompletion notes that the subject finished unitID at at.
func (a *ActivityStore) RecordCompletion(subjectID, unitID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completions[subjectID] = append(a.completions[subjectID], completion{unitID: unitID, at: at})
}

func (a *ActivityStore) Candidates(_ context.Context, after string, limit int) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	seen := make(map[string]bool)
	for id := range a.logins {
		seen[id] = true
	}
	for id := range a.completions {
		seen[id] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		if id > after {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *ActivityStore) Snapshot(ctx context.Context, subjectID string, now time.Time) (*domain.ActivitySnapshot, error) {
	a.mu.RLock()
	login, hasLogin := a.logins[subjectID]
	comps := append([]completion(nil), a.completions[subjectID]...)
	units := a.units
	a.mu.RUnlock()

	if !hasLogin && len(comps) == 0 {
		return nil, nil
	}

	snap := &domain.ActivitySnapshot{SubjectID: subjectID}
	if a.subjects != nil {
		if s, err := a.subjects.Get(ctx, subjectID); err == nil && s != nil {
			snap.FirstName, snap.Email = s.FirstName, s.Email
		}
	}
	if hasLogin {
		l := login
		snap.LastLoginAt = &l
	}

	done := make(map[string]bool)
	today := now.UTC().Format("2006-01-02")
	for _, c := range comps {
		done[c.unitID] = true
		if snap.LastCompletedAt == nil || c.at.After(*snap.LastCompletedAt) {
			at := c.at
			snap.LastCompletedAt = &at
			snap.LastCompletedUnit = unitTitle(units, c.unitID)
		}
		if c.at.UTC().Format("2006-01-02") == today {
			snap.CompletedToday = true
		}
	}

	finished := 0
	for _, u := range units {
		if done[u.ID] {
			finished++
		} else if snap.NextUnitTitle == "" {
			snap.NextUnitTitle = u.Title
		}
	}
	if len(units) > 0 {
		snap.ProgressPercent = float64(finished) * 100 / float64(len(units))
	}
	return snap, nil
}

func unitTitle(units []Unit, id string) string {
	for _, u := range units {
		if u.ID == id {
			return u.Title
		}
	}
	return id
}
