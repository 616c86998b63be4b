package tagging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/scoring"
)

// Write is the outcome of applying a tag.
type Write struct {
	Tag     domain.Tag `json:"tag"`
	Changed bool       `json:"changed"`
}

// Service validates and normalises tags before they reach the Store.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Store exposes the underlying store for read-heavy collaborators.
func (s *Service) Store() Store { return s.store }

// Normalize returns the stored form of a tag: trimmed, lowercased label and
// canonical qualification answers.
func Normalize(subjectID, label, value string) (domain.Tag, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return domain.Tag{}, ErrEmptySubject
	}
	label = domain.NormalizeLabel(label)
	if label == "" {
		return domain.Tag{}, ErrEmptyLabel
	}
	value = strings.TrimSpace(value)
	if dim, v, ok := scoring.QualificationTag(label, value); ok {
		label = domain.QualificationPrefix + string(dim)
		value = v
	}
	return domain.Tag{SubjectID: subjectID, Label: label, Value: value}, nil
}

// Apply upserts a tag. Changed is false when the subject already carried the
// same value.
func (s *Service) Apply(ctx context.Context, subjectID, label, value string) (Write, error) {
	tag, err := Normalize(subjectID, label, value)
	if err != nil {
		return Write{}, err
	}
	tag.CreatedAt = s.now().UTC()
	changed, err := s.store.Upsert(ctx, tag)
	if err != nil {
		return Write{}, fmt.Errorf("upsert tag %s: %w", tag.Label, err)
	}
	return Write{Tag: tag, Changed: changed}, nil
}

// Record appends a history tag.
func (s *Service) Record(ctx context.Context, subjectID, label, value string) (domain.Tag, error) {
	tag, err := Normalize(subjectID, label, value)
	if err != nil {
		return domain.Tag{}, err
	}
	tag.CreatedAt = s.now().UTC()
	if err := s.store.Append(ctx, tag); err != nil {
		return domain.Tag{}, fmt.Errorf("append tag %s: %w", tag.Label, err)
	}
	return tag, nil
}

// Current returns the current tag for label, or nil.
func (s *Service) Current(ctx context.Context, subjectID, label string) (*domain.Tag, error) {
	return s.store.Current(ctx, subjectID, domain.NormalizeLabel(label))
}

// CurrentValue returns the value of the current tag and whether one exists.
func (s *Service) CurrentValue(ctx context.Context, subjectID, label string) (string, bool, error) {
	t, err := s.Current(ctx, subjectID, label)
	if err != nil || t == nil {
		return "", false, err
	}
	return t.Value, true, nil
}

// Snapshot returns every tag of the subject.
func (s *Service) Snapshot(ctx context.Context, subjectID string) ([]domain.Tag, error) {
	return s.store.ForSubject(ctx, subjectID)
}

// Has reports whether the subject currently carries label.
func (s *Service) Has(ctx context.Context, subjectID, label string) (bool, error) {
	t, err := s.Current(ctx, subjectID, label)
	return t != nil, err
}

// Remove deletes the label from the subject. Removing an absent label is not
// an error.
func (s *Service) Remove(ctx context.Context, subjectID, label string) (int, error) {
	tag, err := Normalize(subjectID, label, "")
	if err != nil {
		return 0, err
	}
	n, err := s.store.Remove(ctx, tag.SubjectID, tag.Label)
	if err != nil {
		return 0, fmt.Errorf("remove tag %s: %w", tag.Label, err)
	}
	return n, nil
}
