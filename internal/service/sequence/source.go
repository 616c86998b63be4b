package sequence

import (
	"context"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Source loads every sequence definition.
type Source interface {
	Load(ctx context.Context) ([]domain.SequenceDefinition, error)
}

// StaticSource serves a fixed set of definitions.
type StaticSource []domain.SequenceDefinition

func (s StaticSource) Load(context.Context) ([]domain.SequenceDefinition, error) {
	out := make([]domain.SequenceDefinition, len(s))
	copy(out, s)
	return out, nil
}
