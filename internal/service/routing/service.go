package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

type Service struct {
	resources ResourceRepository
	subjects  SubjectRepository
}

func NewService(resources ResourceRepository, subjects SubjectRepository) *Service {
	return &Service{resources: resources, subjects: subjects}
}

// NicheFromTag extracts the niche from either a `niche` label with a value
// or a `niche:<name>` label.
func NicheFromTag(label, value string) (string, bool) {
	label = domain.NormalizeLabel(label)
	var niche string
	switch {
	case label == domain.LabelNiche:
		niche = value
	case strings.HasPrefix(label, domain.NichePrefix):
		niche = strings.TrimPrefix(label, domain.NichePrefix)
	default:
		return "", false
	}
	niche = strings.ToLower(strings.TrimSpace(niche))
	return niche, niche != ""
}

// Eligible returns the resources a niche routes to: the active resources of
// that niche, or every active resource when none serve it.
func Eligible(active []domain.Resource, niche string) []domain.Resource {
	ordered := append([]domain.Resource(nil), active...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	var matched []domain.Resource
	for _, r := range ordered {
		if r.Active && strings.EqualFold(strings.TrimSpace(r.Niche), niche) {
			matched = append(matched, r)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	var all []domain.Resource
	for _, r := range ordered {
		if r.Active {
			all = append(all, r)
		}
	}
	return all
}

// AssignResource routes the subject from a niche tag and returns the
// resource id. It returns ErrNotNiche for other tags and ErrNoResource only
// when no active resource exists at all.
func (s *Service) AssignResource(ctx context.Context, subjectID, label, value string) (string, error) {
	niche, ok := NicheFromTag(label, value)
	if !ok {
		return "", ErrNotNiche
	}
	active, err := s.resources.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("list resources: %w", err)
	}
	eligible := Eligible(active, niche)
	if len(eligible) == 0 {
		return "", ErrNoResource
	}

	current, err := s.subjects.AssignedResource(ctx, subjectID)
	if err != nil {
		return "", fmt.Errorf("read assignment: %w", err)
	}
	for _, r := range eligible {
		if r.ID == current {
			return current, nil
		}
	}

	chosen := eligible[0].ID
	if err := s.subjects.SetAssignedResource(ctx, subjectID, chosen); err != nil {
		return "", fmt.Errorf("write assignment: %w", err)
	}
	logger.Info("routing: subject assigned", "subject_id", subjectID, "niche", niche,
		"resource_id", chosen, "previous", current)
	return chosen, nil
}
