package enrollment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
	"github.com/ignite/lifecycle-engine/internal/service/sequence"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixtures() sequence.StaticSource {
	st := func(pos int, d domain.Delay, active bool) domain.StepDefinition {
		return domain.StepDefinition{Position: pos, Subject: "subject", Body: "body", Delay: d, Active: active}
	}
	return sequence.StaticSource{
		{
			ID: "optin", Name: "Opt-in", Active: true,
			Trigger: domain.TagAdded{Label: "optin"}, ExitTag: "purchased", ExitOnReply: true,
			Steps: []domain.StepDefinition{
				st(1, domain.Delay{}, true),
				st(2, domain.Delay{Days: 1}, true),
				st(3, domain.Delay{Days: 2}, false),
				st(4, domain.Delay{}, true),
			},
		},
		{
			ID: "empty", Name: "Empty", Active: true, Trigger: domain.TagAdded{Label: "empty"},
			Steps: []domain.StepDefinition{st(1, domain.Delay{}, false)},
		},
		{
			ID: "retired", Name: "Retired", Active: false, Trigger: domain.TagAdded{Label: "retired"},
			Steps: []domain.StepDefinition{st(1, domain.Delay{}, true)},
		},
		{
			ID: "clicky", Name: "Click exit", Active: true, Trigger: domain.TagAdded{Label: "webinar"}, ExitOnClick: true,
			Steps: []domain.StepDefinition{st(1, domain.Delay{Hours: 2}, true)},
		},
	}
}

func newService(t *testing.T) (*enrollment.Service, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)}
	svc := enrollment.NewService(memory.NewEnrollmentRepo(), sequence.NewRegistry(fixtures()))
	svc.SetClock(clk.Now)
	return svc, clk
}

func TestEnroll_StartsAtFirstActiveStep(t *testing.T) {
	svc, clk := newService(t)
	e, err := svc.Enroll(context.Background(), "s1", "clicky")
	require.NoError(t, err)

	assert.Equal(t, domain.EnrollmentActive, e.Status)
	assert.Equal(t, 1, e.CurrentStep)
	require.NotNil(t, e.NextSendAt)
	assert.Equal(t, clk.Now().Add(2*time.Hour), *e.NextSendAt)
}

func TestEnroll_IsIdempotentWhileLive(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	first, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	clk.Add(time.Hour)
	again, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.EnrolledAt, again.EnrolledAt)
}

func TestEnroll_ConcurrentCallsYieldOneLiveEnrollment(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := svc.Enroll(ctx, "s1", "optin")
			if err == nil {
				ids[i] = e.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := svc.ForSubject(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnroll_NoActiveStepsCompletesImmediately(t *testing.T) {
	svc, _ := newService(t)
	e, err := svc.Enroll(context.Background(), "s1", "empty")
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.Nil(t, e.NextSendAt)
	assert.NotNil(t, e.CompletedAt)
}

func TestEnroll_InputErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, "s1", "missing")
	assert.ErrorIs(t, err, enrollment.ErrSequenceNotFound)

	_, err = svc.Enroll(ctx, "s1", "retired")
	assert.ErrorIs(t, err, enrollment.ErrSequenceInactive)

	all, err := svc.ForSubject(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAdvance_NextSendAtIsMonotonicAndStrictlyLater(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	e, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	prev := *e.NextSendAt

	// step 1 -> 2 (1 day), 2 -> 4 (zero delay, step 3 inactive)
	wantSteps := []int{2, 4}
	for _, want := range wantSteps {
		call := clk.Now()
		e, err = svc.Advance(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, want, e.CurrentStep)
		require.NotNil(t, e.NextSendAt)
		assert.True(t, e.NextSendAt.After(call), "next send must be after the advancing call")
		assert.False(t, e.NextSendAt.Before(prev), "next send moved backwards")
		prev = *e.NextSendAt
		clk.Add(time.Minute)
	}

	e, err = svc.Advance(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentCompleted, e.Status)
	assert.Nil(t, e.NextSendAt)

	_, err = svc.Advance(ctx, e.ID)
	assert.ErrorIs(t, err, enrollment.ErrNotActive)
}

func TestAdvance_NeverMovesBeforePreviousSendTime(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	e, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	e, err = svc.Advance(ctx, e.ID) // due in one day
	require.NoError(t, err)
	prev := *e.NextSendAt

	// Advancing early (admin action) toward a zero-delay step keeps the
	// previously scheduled time.
	e, err = svc.Advance(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, prev, *e.NextSendAt)
	assert.True(t, e.NextSendAt.After(clk.Now()))
}

func TestAdvanceFrom_StaleStepConflicts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	e, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	_, err = svc.AdvanceFrom(ctx, e.ID, 1)
	require.NoError(t, err)

	_, err = svc.AdvanceFrom(ctx, e.ID, 1)
	assert.ErrorIs(t, err, enrollment.ErrConflict)
}

func TestAdvanceFrom_ConcurrentWritersAdvanceOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	e, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AdvanceFrom(ctx, e.ID, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
}

func TestExit_IsIdempotent(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	none, err := svc.Exit(ctx, "s1", "optin", enrollment.ReasonManual)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	first, err := svc.Exit(ctx, "s1", "optin", enrollment.ReasonManual)
	require.NoError(t, err)
	require.NotNil(t, first.ExitedAt)
	assert.Equal(t, domain.EnrollmentExited, first.Status)
	assert.Nil(t, first.NextSendAt)

	clk.Add(time.Hour)
	second, err := svc.Exit(ctx, "s1", "optin", "other")
	require.NoError(t, err)
	assert.Equal(t, *first.ExitedAt, *second.ExitedAt)
	assert.Equal(t, enrollment.ReasonManual, second.ExitReason)
}

func TestEnroll_AfterExitStartsFresh(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	_, err = svc.Exit(ctx, "s1", "optin", enrollment.ReasonManual)
	require.NoError(t, err)

	second, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.EnrollmentActive, second.Status)
}

func TestPauseResume(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	e, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentPaused, paused.Status)

	due, err := svc.Due(ctx, clk.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	again, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	assert.Equal(t, e.ID, again.ID, "paused enrollment still occupies the slot")

	_, err = svc.Pause(ctx, e.ID)
	assert.ErrorIs(t, err, enrollment.ErrInvalidTransition)

	resumed, err := svc.Resume(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentActive, resumed.Status)

	due, err = svc.Due(ctx, clk.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestDue_OldestFirstAndBounded(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()
	svc.SetBatchSize(2)

	for _, s := range []string{"a", "b", "c"} {
		_, err := svc.Enroll(ctx, s, "clicky")
		require.NoError(t, err)
		clk.Add(time.Minute)
	}

	due, err := svc.Due(ctx, clk.Now().Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].SubjectID)
	assert.Equal(t, "b", due[1].SubjectID)

	due, err = svc.Due(ctx, clk.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestHandleTag_ExitsOnlyMatchingSequences(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, "s1", "clicky")
	require.NoError(t, err)

	exited, err := svc.HandleTag(ctx, "s1", "Purchased")
	require.NoError(t, err)
	require.Len(t, exited, 1)
	assert.Equal(t, "optin", exited[0].SequenceID)
	assert.Equal(t, "exit_tag:purchased", exited[0].ExitReason)

	all, err := svc.ForSubject(ctx, "s1")
	require.NoError(t, err)
	live := 0
	for _, e := range all {
		if e.IsLive() {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestHandleEngagement(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Enroll(ctx, "s1", "optin")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, "s1", "clicky")
	require.NoError(t, err)

	exited, err := svc.HandleEngagement(ctx, "s1", domain.EngagementClick, "optin")
	require.NoError(t, err)
	assert.Empty(t, exited, "click scoped to a sequence without exit-on-click")

	exited, err = svc.HandleEngagement(ctx, "s1", domain.EngagementReply, "")
	require.NoError(t, err)
	require.Len(t, exited, 1)
	assert.Equal(t, "optin", exited[0].SequenceID)

	_, err = svc.HandleEngagement(ctx, "s1", "bounce", "")
	assert.Error(t, err)
}
