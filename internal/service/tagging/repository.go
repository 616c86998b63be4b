package tagging

import (
	"context"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Store is the persistence contract for tags.
type Store interface {
	// Upsert keeps a single row per (subject, label). It reports whether
	// anything changed: false when the same value was already current.
	Upsert(ctx context.Context, tag domain.Tag) (bool, error)

	// Append adds a history row. Multiple rows with one label may coexist.
	Append(ctx context.Context, tag domain.Tag) error

	// Current returns the most recent tag with label, or nil.
	Current(ctx context.Context, subjectID, label string) (*domain.Tag, error)

	// ForSubject returns every tag of a subject, oldest first.
	ForSubject(ctx context.Context, subjectID string) ([]domain.Tag, error)

	// SubjectsWithTag lists subjects carrying label written at or after since.
	SubjectsWithTag(ctx context.Context, label string, since time.Time) ([]string, error)

	// Remove deletes every row with label for the subject and returns the count.
	Remove(ctx context.Context, subjectID, label string) (int, error)
}
