package routing

import (
	"context"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// ResourceRepository lists routable resources.
type ResourceRepository interface {
	// ListActive returns active resources ordered by created_at, id.
	ListActive(ctx context.Context) ([]domain.Resource, error)
}

// SubjectRepository reads and writes a subject's assignment.
type SubjectRepository interface {
	AssignedResource(ctx context.Context, subjectID string) (string, error)
	SetAssignedResource(ctx context.Context, subjectID, resourceID string) error
}
