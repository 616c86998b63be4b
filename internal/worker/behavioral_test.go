package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/render"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/ignite/lifecycle-engine/internal/service/nudge"
	"github.com/ignite/lifecycle-engine/internal/service/outreach"
	"github.com/ignite/lifecycle-engine/internal/worker"
)

type scriptedNudges struct {
	mu       sync.Mutex
	subjects []string
	results  map[string]nudge.Result
	errs     map[string]error
	seenAt   []time.Time
}

func (s *scriptedNudges) Candidates(_ context.Context, after string, limit int) ([]string, error) {
	var out []string
	for _, id := range s.subjects {
		if id > after && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *scriptedNudges) EvaluateSubject(_ context.Context, subjectID string, now time.Time) (nudge.Result, error) {
	s.mu.Lock()
	s.seenAt = append(s.seenAt, now)
	s.mu.Unlock()
	if err := s.errs[subjectID]; err != nil {
		return nudge.Result{}, err
	}
	return s.results[subjectID], nil
}

func TestBehavioral_TalliesOutcomes(t *testing.T) {
	ctx := context.Background()
	script := &scriptedNudges{
		subjects: []string{"a", "b", "c", "d", "e"},
		results: map[string]nudge.Result{
			"a": {Outcome: nudge.OutcomeSent},
			"b": {Outcome: nudge.OutcomeCooldown},
			"c": {Outcome: nudge.OutcomeNoMatch},
			"d": {Outcome: nudge.OutcomeQuiet},
		},
		errs: map[string]error{"e": errors.New("ses throttled")},
	}
	runs := memory.NewTickRunRepo()
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	w := worker.NewBehavioralWorker(script)
	w.SetClock(func() time.Time { return t0 })
	w.SetRecorder(runs)
	w.SetConfig(worker.NudgeConfig{Workers: 3})

	sum, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TickNudge, sum.Kind)
	assert.Equal(t, 5, sum.Attempted)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.SkippedCooldown)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)

	for _, at := range script.seenAt {
		assert.Equal(t, t0, at)
	}
	recent, err := runs.Recent(ctx, domain.TickNudge, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, sum, recent[0])
}

func TestBehavioral_BatchSizeCapsCandidates(t *testing.T) {
	script := &scriptedNudges{subjects: []string{"a", "b", "c"}, results: map[string]nudge.Result{}}
	w := worker.NewBehavioralWorker(script)
	w.SetConfig(worker.NudgeConfig{BatchSize: 2})

	sum, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Attempted)
}

// countingNudges pages through a real activity store and counts evaluations.
type countingNudges struct {
	*memory.ActivityStore
	mu    sync.Mutex
	evals map[string]int
}

func (c *countingNudges) EvaluateSubject(_ context.Context, subjectID string, _ time.Time) (nudge.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evals[subjectID]++
	return nudge.Result{Outcome: nudge.OutcomeNoMatch}, nil
}

func TestBehavioral_BatchesRotateThroughAllSubjects(t *testing.T) {
	activity := memory.NewActivityStore(nil)
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		activity.RecordLogin(id, t0.Add(-time.Hour))
	}
	counter := &countingNudges{ActivityStore: activity, evals: map[string]int{}}

	w := worker.NewBehavioralWorker(counter)
	w.SetConfig(worker.NudgeConfig{BatchSize: 2})

	for i := 0; i < 2; i++ {
		sum, err := w.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Attempted)
	}
	assert.Equal(t, map[string]int{"a": 2, "b": 1, "c": 1}, counter.evals)

	for i := 0; i < 4; i++ {
		_, err := w.Tick(context.Background())
		require.NoError(t, err)
	}
	// Six ticks of two cover each of three subjects four times.
	assert.Equal(t, map[string]int{"a": 4, "b": 4, "c": 4}, counter.evals)
}

func TestBehavioral_SmallPopulationStartsOverEachTick(t *testing.T) {
	script := &scriptedNudges{subjects: []string{"a", "b"}, results: map[string]nudge.Result{}}
	w := worker.NewBehavioralWorker(script)
	w.SetConfig(worker.NudgeConfig{BatchSize: 5})

	for i := 0; i < 3; i++ {
		sum, err := w.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Attempted)
	}
}

type blockingTicker struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingTicker) Tick(ctx context.Context) (domain.TickSummary, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return domain.TickSummary{}, nil
}

func TestLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := &blockingTicker{release: make(chan struct{})}
	close(tk.release)

	done := make(chan struct{})
	go func() {
		worker.NewLoop("TestLoop", 5*time.Millisecond, tk).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return tk.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestBehavioral_OverlappingTickIsBusy(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingNudges{release: release, entered: make(chan struct{})}
	w := worker.NewBehavioralWorker(blocking)

	errc := make(chan error, 1)
	go func() {
		_, err := w.Tick(context.Background())
		errc <- err
	}()
	<-blocking.entered

	_, err := w.Tick(context.Background())
	assert.ErrorIs(t, err, worker.ErrTickBusy)

	close(release)
	require.NoError(t, <-errc)
}

type blockingNudges struct {
	release chan struct{}
	entered chan struct{}
}

func (b *blockingNudges) Candidates(context.Context, string, int) ([]string, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func (b *blockingNudges) EvaluateSubject(context.Context, string, time.Time) (nudge.Result, error) {
	return nudge.Result{}, nil
}

func TestBehavioral_TickLogCarriesTickFields(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	script := &scriptedNudges{subjects: []string{"a"}, results: map[string]nudge.Result{"a": {Outcome: nudge.OutcomeSent}}}
	sum, err := worker.NewBehavioralWorker(script).Tick(context.Background())
	require.NoError(t, err)

	var entry map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "worker: tick finished") {
			require.NoError(t, json.Unmarshal([]byte(line), &entry))
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, sum.ID, entry["tick_id"])
	assert.Equal(t, domain.TickNudge, entry["kind"])
	assert.Equal(t, "1", entry["sent"])
}

func TestBehavioral_StuckNudgeSendIsFailed(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	activity := memory.NewActivityStore(nil, memory.Unit{ID: "u1", Title: "Foundations"})
	activity.RecordLogin("s1", t0.Add(-10*24*time.Hour))
	ledger := outreach.NewLedger(memory.NewTagStore())
	eval, err := nudge.NewEvaluator(nudge.DefaultRules())
	require.NoError(t, err)

	stuck := &recordingSender{stall: true}
	svc := nudge.NewService(eval, activity, ledger, stuck, render.New())
	svc.SetSendTimeout(20 * time.Millisecond)

	w := worker.NewBehavioralWorker(svc)
	w.SetClock(func() time.Time { return t0 })

	sum, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Attempted)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Sent)
	require.Len(t, stuck.errs, 1)
	assert.ErrorIs(t, stuck.errs[0], context.DeadlineExceeded)
}
