package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
)

// EnrollmentRepo implements enrollment.Repository.
type EnrollmentRepo struct {
	mu   sync.RWMutex
	byID map[string]*domain.Enrollment
	seq  map[string]int64
	next int64
}

func NewEnrollmentRepo() *EnrollmentRepo {
	return &EnrollmentRepo{byID: make(map[string]*domain.Enrollment), seq: make(map[string]int64)}
}

func clone(e *domain.Enrollment) *domain.Enrollment {
	c := *e
	return &c
}

func (r *EnrollmentRepo) Get(_ context.Context, id string) (*domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	return clone(e), nil
}

func (r *EnrollmentRepo) findLive(subjectID, sequenceID string) *domain.Enrollment {
	for _, e := range r.byID {
		if e.SubjectID == subjectID && e.SequenceID == sequenceID && e.IsLive() {
			return e
		}
	}
	return nil
}

func (r *EnrollmentRepo) FindLive(_ context.Context, subjectID, sequenceID string) (*domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.findLive(subjectID, sequenceID); e != nil {
		return clone(e), nil
	}
	return nil, nil
}

func (r *EnrollmentRepo) Latest(_ context.Context, subjectID, sequenceID string) (*domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *domain.Enrollment
	for id, e := range r.byID {
		if e.SubjectID != subjectID || e.SequenceID != sequenceID {
			continue
		}
		if best == nil || r.seq[id] > r.seq[best.ID] {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (r *EnrollmentRepo) ListLive(_ context.Context, subjectID string) ([]domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Enrollment
	for _, e := range r.byID {
		if e.SubjectID == subjectID && e.IsLive() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}

func (r *EnrollmentRepo) ListBySubject(_ context.Context, subjectID string) ([]domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Enrollment
	for _, e := range r.byID {
		if e.SubjectID == subjectID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.seq[out[i].ID] > r.seq[out[j].ID] })
	return out, nil
}

func (r *EnrollmentRepo) Create(_ context.Context, e *domain.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.IsLive() && r.findLive(e.SubjectID, e.SequenceID) != nil {
		return enrollment.ErrAlreadyLive
	}
	r.next++
	r.byID[e.ID] = clone(e)
	r.seq[e.ID] = r.next
	return nil
}

func (r *EnrollmentRepo) Update(_ context.Context, e *domain.Enrollment, expect enrollment.Expect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[e.ID]
	if !ok {
		return enrollment.ErrNotFound
	}
	if cur.Status != expect.Status || cur.CurrentStep != expect.Step {
		return enrollment.ErrConflict
	}
	r.byID[e.ID] = clone(e)
	return nil
}

func (r *EnrollmentRepo) Due(_ context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Enrollment
	for _, e := range r.byID {
		if e.IsDue(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextSendAt.Equal(*out[j].NextSendAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextSendAt.Before(*out[j].NextSendAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
