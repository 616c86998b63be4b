package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/distlock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/service/nudge"
)

const DefaultNudgeBatch = 1000

// NudgeService evaluates and nudges one subject at a time.
type NudgeService interface {
	Candidates(ctx context.Context, after string, limit int) ([]string, error)
	EvaluateSubject(ctx context.Context, subjectID string, now time.Time) (nudge.Result, error)
}

// NudgeConfig tunes one behavioral tick.
type NudgeConfig struct {
	BatchSize    int
	Workers      int
	SoftDeadline time.Duration
}

func (c NudgeConfig) withDefaults() NudgeConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultNudgeBatch
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SoftDeadline <= 0 {
		c.SoftDeadline = DefaultSoftDeadline
	}
	return c
}

// BehavioralWorker evaluates the nudge rules for every candidate subject.
// Each tick takes the next BatchSize subjects after the last one it saw and
// wraps to the start, so every subject is reached once per full rotation.
type BehavioralWorker struct {
	nudges   NudgeService
	recorder TickRecorder
	cfg      NudgeConfig
	now      func() time.Time
	guard    tickGuard
	cursor   string // last subject id evaluated; guarded by guard
}

func NewBehavioralWorker(nudges NudgeService) *BehavioralWorker {
	return &BehavioralWorker{nudges: nudges, cfg: NudgeConfig{}.withDefaults(), now: time.Now}
}

func (b *BehavioralWorker) SetConfig(cfg NudgeConfig) { b.cfg = cfg.withDefaults() }
func (b *BehavioralWorker) SetRecorder(r TickRecorder) { b.recorder = r }
func (b *BehavioralWorker) SetClock(now func() time.Time) { b.now = now }
func (b *BehavioralWorker) SetTickLock(l distlock.DistLock) { b.guard.lock = l }

// Tick evaluates every candidate once. All subjects in a tick are judged
// against the tick's start time.
func (b *BehavioralWorker) Tick(ctx context.Context) (domain.TickSummary, error) {
	leave, err := b.guard.enter(ctx)
	if err != nil {
		return domain.TickSummary{}, err
	}
	defer leave()

	started := b.now().UTC()
	summary := newSummary(domain.TickNudge, started)

	subjects, err := b.nextBatch(ctx)
	if err != nil {
		finish(ctx, b.recorder, summary, b.now().UTC())
		return summary, fmt.Errorf("list nudge candidates: %w", err)
	}

	deadline := started.Add(b.cfg.SoftDeadline)
	results := runBounded(ctx, len(subjects), b.cfg.Workers, deadline, b.now, func(ctx context.Context, i int) outcome {
		res, err := b.nudges.EvaluateSubject(ctx, subjects[i], started)
		if err != nil {
			logger.Warn("nudge: evaluation failed", "subject_id", subjects[i], "error", err.Error())
			return outcomeFailed
		}
		switch res.Outcome {
		case nudge.OutcomeSent:
			return outcomeSent
		case nudge.OutcomeCooldown:
			return outcomeCooldown
		default:
			return outcomeSkipped
		}
	})
	tally(&summary, results)
	return finish(ctx, b.recorder, summary, b.now().UTC()), nil
}

// nextBatch returns up to BatchSize subjects after the cursor. A short page
// wraps around to the lowest ids not already in the batch.
func (b *BehavioralWorker) nextBatch(ctx context.Context) ([]string, error) {
	limit := b.cfg.BatchSize
	subjects, err := b.nudges.Candidates(ctx, b.cursor, limit)
	if err != nil {
		return nil, err
	}
	if len(subjects) < limit && b.cursor != "" {
		head, err := b.nudges.Candidates(ctx, "", limit-len(subjects))
		if err != nil {
			return nil, err
		}
		for _, id := range head {
			if id > b.cursor {
				break
			}
			subjects = append(subjects, id)
		}
	}
	switch {
	case len(subjects) == 0:
		b.cursor = ""
	case len(subjects) < limit:
		// Everything fit in one batch; start over next tick.
		b.cursor = ""
	default:
		b.cursor = subjects[len(subjects)-1]
	}
	return subjects, nil
}
