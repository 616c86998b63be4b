package enrollment

import (
	"context"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Expect is the compare half of a compare-and-swap update.
type Expect struct {
	Status domain.EnrollmentStatus
	Step   int
}

// Repository is the persistence contract for enrollments.
type Repository interface {
	// Get returns ErrNotFound when id is unknown.
	Get(ctx context.Context, id string) (*domain.Enrollment, error)

	// FindLive returns the active or paused enrollment for the pair, or nil.
	FindLive(ctx context.Context, subjectID, sequenceID string) (*domain.Enrollment, error)

	// Latest returns the most recently created enrollment for the pair in
	// any status, or nil.
	Latest(ctx context.Context, subjectID, sequenceID string) (*domain.Enrollment, error)

	// ListLive returns every live enrollment of a subject.
	ListLive(ctx context.Context, subjectID string) ([]domain.Enrollment, error)

	// ListBySubject returns every enrollment of a subject, newest first.
	ListBySubject(ctx context.Context, subjectID string) ([]domain.Enrollment, error)

	// Create inserts e. It returns ErrAlreadyLive when a live enrollment for
	// the pair already exists.
	Create(ctx context.Context, e *domain.Enrollment) error

	// Update writes e only if the stored row still matches expect. It
	// returns ErrConflict otherwise.
	Update(ctx context.Context, e *domain.Enrollment, expect Expect) error

	// Due returns active enrollments with next_send_at <= now, oldest due
	// first, at most limit rows.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error)
}

// Sequences resolves definitions by id.
type Sequences interface {
	Get(ctx context.Context, id string) (*domain.SequenceDefinition, error)
}
