// Package automation is the entry point for lifecycle events. It turns tag
// writes, application events and engagement signals into enrollment
// transitions, keeps the cached lead score current and routes niche tags.
//
// Tag-driven enrolls and exits are best effort: failures are logged and the
// tag write itself still succeeds. Exits run before enrolls so a tag that is
// both an exit tag and a trigger never leaves the subject enrolled in a
// sequence it should leave.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/scoring"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
	"github.com/ignite/lifecycle-engine/internal/service/routing"
	"github.com/ignite/lifecycle-engine/internal/service/tagging"
)

// Resolver finds the sequences a trigger starts.
type Resolver interface {
	Resolve(ctx context.Context, fired domain.Trigger) ([]domain.SequenceDefinition, error)
}

// SubjectRepository caches derived score fields on the subject record.
type SubjectRepository interface {
	UpdateDerived(ctx context.Context, id string, score domain.Score) error
}

// TagResult reports everything a tag write caused.
type TagResult struct {
	Tag              domain.Tag          `json:"tag"`
	Changed          bool                `json:"changed"`
	Enrolled         []domain.Enrollment `json:"enrolled,omitempty"`
	Exited           []domain.Enrollment `json:"exited,omitempty"`
	Score            *domain.Score       `json:"score,omitempty"`
	AssignedResource string              `json:"assigned_resource,omitempty"`
}

// Engine wires the services together. It is safe for concurrent use.
type Engine struct {
	tags        *tagging.Service
	sequences   Resolver
	enrollments *enrollment.Service
	routing     *routing.Service
	subjects    SubjectRepository
	now         func() time.Time
}

func NewEngine(tags *tagging.Service, sequences Resolver, enrollments *enrollment.Service, router *routing.Service, subjects SubjectRepository) *Engine {
	return &Engine{
		tags:        tags,
		sequences:   sequences,
		enrollments: enrollments,
		routing:     router,
		subjects:    subjects,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for cache tags.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ApplyTag writes a tag and reacts to it. Re-applying an identical tag is a
// no-op and triggers nothing.
func (e *Engine) ApplyTag(ctx context.Context, subjectID, label, value string) (*TagResult, error) {
	w, err := e.tags.Apply(ctx, subjectID, label, value)
	if err != nil {
		return nil, err
	}
	res := &TagResult{Tag: w.Tag, Changed: w.Changed}
	if !w.Changed {
		return res, nil
	}

	keys := []string{w.Tag.Label}
	if raw := domain.NormalizeLabel(label); raw != w.Tag.Label {
		keys = append(keys, raw)
	}

	for _, key := range keys {
		exited, err := e.enrollments.HandleTag(ctx, subjectID, key)
		if err != nil {
			logger.Error("automation: exit on tag failed", "subject_id", subjectID, "label", key, "error", err.Error())
		}
		res.Exited = append(res.Exited, exited...)
	}

	if strings.HasPrefix(w.Tag.Label, domain.QualificationPrefix) {
		score, err := e.refreshScore(ctx, subjectID)
		if err != nil {
			logger.Error("automation: score refresh failed", "subject_id", subjectID, "error", err.Error())
		} else {
			res.Score = &score
		}
	}

	if e.routing != nil {
		if _, isNiche := routing.NicheFromTag(w.Tag.Label, w.Tag.Value); isNiche {
			resource, err := e.routing.AssignResource(ctx, subjectID, w.Tag.Label, w.Tag.Value)
			switch {
			case errors.Is(err, routing.ErrNoResource):
				logger.Warn("automation: no resource to route to", "subject_id", subjectID)
			case err != nil:
				logger.Error("automation: routing failed", "subject_id", subjectID, "error", err.Error())
			default:
				res.AssignedResource = resource
			}
		}
	}

	for _, key := range keys {
		res.Enrolled = append(res.Enrolled, e.enrollFor(ctx, subjectID, domain.TagAdded{Label: key})...)
	}
	return res, nil
}

// RemoveTag deletes a label. Removing a qualification answer rescores.
func (e *Engine) RemoveTag(ctx context.Context, subjectID, label string) (int, error) {
	n, err := e.tags.Remove(ctx, subjectID, label)
	if err != nil {
		return 0, err
	}
	if n > 0 && strings.HasPrefix(domain.NormalizeLabel(label), domain.QualificationPrefix) {
		if _, err := e.refreshScore(ctx, subjectID); err != nil {
			logger.Error("automation: score refresh failed", "subject_id", subjectID, "error", err.Error())
		}
	}
	return n, nil
}

// FireLifecycleEvent enrolls the subject in every sequence the event starts.
func (e *Engine) FireLifecycleEvent(ctx context.Context, subjectID, name, namespace string) ([]domain.Enrollment, error) {
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("subject and event name are required")
	}
	return e.enrollFor(ctx, subjectID, domain.LifecycleEvent{Name: name, Namespace: namespace}), nil
}

// RecordEngagement exits sequences that end on a reply or click.
func (e *Engine) RecordEngagement(ctx context.Context, subjectID string, kind domain.EngagementKind, sequenceID string) ([]domain.Enrollment, error) {
	return e.enrollments.HandleEngagement(ctx, subjectID, kind, sequenceID)
}

// SubjectScore computes the score from the current tags and refreshes the
// cached copy.
func (e *Engine) SubjectScore(ctx context.Context, subjectID string) (domain.Score, error) {
	return e.refreshScore(ctx, subjectID)
}

func (e *Engine) enrollFor(ctx context.Context, subjectID string, fired domain.Trigger) []domain.Enrollment {
	defs, err := e.sequences.Resolve(ctx, fired)
	if err != nil {
		logger.Error("automation: resolve sequences failed", "trigger", fired.Key(), "error", err.Error())
		return nil
	}
	var out []domain.Enrollment
	for _, def := range defs {
		if def.ExitTag != "" {
			has, err := e.tags.Has(ctx, subjectID, def.ExitTag)
			if err != nil {
				logger.Error("automation: exit tag lookup failed", "subject_id", subjectID, "sequence_id", def.ID, "error", err.Error())
				continue
			}
			if has {
				logger.Debug("automation: subject already carries exit tag", "subject_id", subjectID, "sequence_id", def.ID)
				continue
			}
		}
		en, err := e.enrollments.Enroll(ctx, subjectID, def.ID)
		if err != nil {
			logger.Error("automation: enroll failed", "subject_id", subjectID, "sequence_id", def.ID, "error", err.Error())
			continue
		}
		out = append(out, *en)
	}
	return out
}

func (e *Engine) refreshScore(ctx context.Context, subjectID string) (domain.Score, error) {
	tags, err := e.tags.Snapshot(ctx, subjectID)
	if err != nil {
		return domain.Score{}, fmt.Errorf("tag snapshot: %w", err)
	}
	score := scoring.ScoreTags(tags)

	now := e.now().UTC()
	store := e.tags.Store()
	cache := []domain.Tag{
		{SubjectID: subjectID, Label: domain.LabelLeadScore, Value: strconv.Itoa(score.Value), CreatedAt: now},
		{SubjectID: subjectID, Label: domain.LabelLeadTier, Value: string(score.Tier), CreatedAt: now},
	}
	for _, t := range cache {
		if _, err := store.Upsert(ctx, t); err != nil {
			return score, fmt.Errorf("cache %s: %w", t.Label, err)
		}
	}
	if e.subjects != nil {
		if err := e.subjects.UpdateDerived(ctx, subjectID, score); err != nil {
			return score, fmt.Errorf("cache score on subject: %w", err)
		}
	}
	return score, nil
}
