// Package worker drives the engine on a schedule: the dispatch tick sends
// due sequence steps and the behavioral tick sends nudges. Both run items on
// a bounded pool and produce one TickSummary per run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/distlock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

const (
	DefaultWorkers      = 8
	DefaultSoftDeadline = 2 * time.Minute
)

// ErrTickBusy is returned when a run of the same tick is already in
// progress, in this process or another one.
var ErrTickBusy = errors.New("tick already running")

// TickRecorder persists tick summaries.
type TickRecorder interface {
	Record(ctx context.Context, s domain.TickSummary) error
}

// Ticker is one periodic unit of work.
type Ticker interface {
	Tick(ctx context.Context) (domain.TickSummary, error)
}

// tickGuard keeps a tick from overlapping itself. The in-process flag covers
// one binary; the optional DistLock covers replicas.
type tickGuard struct {
	running atomic.Bool
	lock    distlock.DistLock
}

func (g *tickGuard) enter(ctx context.Context) (func(), error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, ErrTickBusy
	}
	if g.lock != nil {
		ok, err := g.lock.Acquire(ctx)
		if err != nil {
			g.running.Store(false)
			return nil, fmt.Errorf("acquire tick lock: %w", err)
		}
		if !ok {
			g.running.Store(false)
			return nil, ErrTickBusy
		}
	}
	return func() {
		if g.lock != nil {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := g.lock.Release(rctx); err != nil {
				logger.Warn("worker: tick lock release failed", "error", err.Error())
			}
		}
		g.running.Store(false)
	}, nil
}

// outcome is the per-item result inside a tick.
type outcome int

const (
	outcomeDeferred outcome = iota
	outcomeSent
	outcomeFailed
	outcomeSkipped
	outcomeCooldown
)

func newSummary(kind string, started time.Time) domain.TickSummary {
	return domain.TickSummary{ID: uuid.New().String(), Kind: kind, StartedAt: started}
}

// tally folds per-item outcomes into s.
func tally(s *domain.TickSummary, results []outcome) {
	for _, r := range results {
		switch r {
		case outcomeDeferred:
			s.Deferred++
			continue
		case outcomeSent:
			s.Sent++
		case outcomeFailed:
			s.Failed++
		case outcomeSkipped:
			s.Skipped++
		case outcomeCooldown:
			s.SkippedCooldown++
		}
		s.Attempted++
	}
}

// finish stamps, logs and records a summary. Recording failures are logged
// only.
func finish(ctx context.Context, rec TickRecorder, s domain.TickSummary, finished time.Time) domain.TickSummary {
	s.FinishedAt = finished
	tlog := logger.With("kind", s.Kind, "tick_id", s.ID)
	tlog.Info("worker: tick finished",
		"attempted", s.Attempted, "sent", s.Sent, "failed", s.Failed,
		"skipped", s.Skipped, "skipped_cooldown", s.SkippedCooldown, "deferred", s.Deferred,
		"duration", s.FinishedAt.Sub(s.StartedAt).String())
	if rec != nil {
		if err := rec.Record(ctx, s); err != nil {
			tlog.Error("worker: tick summary not recorded", "error", err.Error())
		}
	}
	return s
}

// Loop runs a Ticker on a fixed interval until its context ends.
type Loop struct {
	name     string
	interval time.Duration
	ticker   Ticker
}

func NewLoop(name string, interval time.Duration, t Ticker) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{name: name, interval: interval, ticker: t}
}

// Start blocks until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	log.Printf("[%s] Starting (interval=%s)", l.name, l.interval)

	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] Stopping", l.name)
			return
		case <-t.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single tick and logs its failure.
func (l *Loop) RunOnce(ctx context.Context) {
	if _, err := l.ticker.Tick(ctx); err != nil {
		if errors.Is(err, ErrTickBusy) {
			log.Printf("[%s] previous tick still running, skipping", l.name)
			return
		}
		log.Printf("[%s] tick error: %v", l.name, err)
	}
}
