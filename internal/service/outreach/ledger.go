// Package outreach keeps the outreach ledger: timestamped markers on the tag
// store recording every nudge and sequence message sent to a subject. The
// behavioral evaluator reads it for cooldowns and quiet periods.
package outreach

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/service/tagging"
)

// Marker labels. Per-rule markers are NudgeLabel(ruleID).
const (
	LabelNudge    = domain.OutreachPrefix + "nudge"
	LabelSequence = domain.OutreachPrefix + "sequence"
)

// NudgeLabel is the cooldown marker label for one rule.
func NudgeLabel(ruleID string) string {
	return LabelNudge + ":" + domain.NormalizeLabel(ruleID)
}

// Ledger is backed by a tagging.Store. Markers are appended, never upserted,
// so the history survives.
type Ledger struct {
	store tagging.Store
}

func NewLedger(store tagging.Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) append(ctx context.Context, subjectID, label, value string, at time.Time) error {
	tag := domain.Tag{SubjectID: subjectID, Label: label, Value: value, CreatedAt: at.UTC()}
	if err := l.store.Append(ctx, tag); err != nil {
		return fmt.Errorf("append %s marker: %w", label, err)
	}
	return nil
}

func (l *Ledger) last(ctx context.Context, subjectID, label string) (*time.Time, error) {
	t, err := l.store.Current(ctx, subjectID, label)
	if err != nil {
		return nil, fmt.Errorf("read %s marker: %w", label, err)
	}
	if t == nil {
		return nil, nil
	}
	at := t.CreatedAt
	return &at, nil
}

// MarkNudge records that ruleID nudged the subject at at.
func (l *Ledger) MarkNudge(ctx context.Context, subjectID, ruleID string, at time.Time) error {
	if err := l.append(ctx, subjectID, NudgeLabel(ruleID), "", at); err != nil {
		return err
	}
	return l.append(ctx, subjectID, LabelNudge, domain.NormalizeLabel(ruleID), at)
}

// LastNudge returns when ruleID last nudged the subject, or nil.
func (l *Ledger) LastNudge(ctx context.Context, subjectID, ruleID string) (*time.Time, error) {
	return l.last(ctx, subjectID, NudgeLabel(ruleID))
}

// MarkSequenceSend records a sequence step delivered to the subject.
func (l *Ledger) MarkSequenceSend(ctx context.Context, subjectID, sequenceID string, step int, at time.Time) error {
	return l.append(ctx, subjectID, LabelSequence, sequenceID+":"+strconv.Itoa(step), at)
}

// LastSequenceSend returns when any sequence message last reached the subject.
func (l *Ledger) LastSequenceSend(ctx context.Context, subjectID string) (*time.Time, error) {
	return l.last(ctx, subjectID, LabelSequence)
}

// LastOutreach returns the most recent marker of either kind.
func (l *Ledger) LastOutreach(ctx context.Context, subjectID string) (*time.Time, error) {
	n, err := l.last(ctx, subjectID, LabelNudge)
	if err != nil {
		return nil, err
	}
	s, err := l.last(ctx, subjectID, LabelSequence)
	if err != nil {
		return nil, err
	}
	switch {
	case n == nil:
		return s, nil
	case s == nil || n.After(*s):
		return n, nil
	default:
		return s, nil
	}
}
