package nudge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func defaultEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(DefaultRules())
	require.NoError(t, err)
	return e
}

func TestEvaluate_PicksHighestPriority(t *testing.T) {
	e := defaultEvaluator(t)
	// Inactive 15 days and stalled at 80%: both inactivity rules and the
	// stall rule match; the stall rule is priority 5.
	snap := domain.ActivitySnapshot{
		LastLoginAt:     ago(15 * day),
		LastCompletedAt: ago(15 * day),
		ProgressPercent: 80,
	}

	matched := e.Match(snap, now)
	assert.GreaterOrEqual(t, len(matched), 3)

	rule := e.Evaluate(snap, now)
	require.NotNil(t, rule)
	assert.Equal(t, "stalled_near_finish", rule.ID)
}

func TestEvaluate_TiesResolveToDefinitionOrder(t *testing.T) {
	e, err := NewEvaluator([]Rule{
		{ID: "first", Condition: ConditionNoRecentLogin, MinElapsed: day, Priority: 3, Template: "a"},
		{ID: "second", Condition: ConditionNoRecentLogin, MinElapsed: day, Priority: 3, Template: "b"},
	})
	require.NoError(t, err)

	rule := e.Evaluate(domain.ActivitySnapshot{LastLoginAt: ago(2 * day)}, now)
	require.NotNil(t, rule)
	assert.Equal(t, "first", rule.ID)
}

func TestEvaluate_Conditions(t *testing.T) {
	e := defaultEvaluator(t)

	tests := []struct {
		name string
		snap domain.ActivitySnapshot
		want string
	}{
		{"no data", domain.ActivitySnapshot{}, ""},
		{"active learner", domain.ActivitySnapshot{LastLoginAt: ago(time.Hour), LastCompletedAt: ago(2 * day), ProgressPercent: 40}, ""},
		{"inactive 4 days", domain.ActivitySnapshot{LastLoginAt: ago(4 * day), LastCompletedAt: ago(4 * day), ProgressPercent: 20}, "inactive_3_days"},
		{"inactive 8 days", domain.ActivitySnapshot{LastLoginAt: ago(8 * day), LastCompletedAt: ago(9 * day), ProgressPercent: 20}, "inactive_7_days"},
		{"inactive 20 days", domain.ActivitySnapshot{LastLoginAt: ago(20 * day), LastCompletedAt: ago(20 * day), ProgressPercent: 20}, "inactive_14_days"},
		{"never started", domain.ActivitySnapshot{LastLoginAt: ago(3 * day)}, "not_started"},
		{"just completed", domain.ActivitySnapshot{LastLoginAt: ago(time.Hour), LastCompletedAt: ago(time.Hour), ProgressPercent: 30, CompletedToday: true}, "unit_completed"},
		{"stalled but finished", domain.ActivitySnapshot{LastLoginAt: ago(time.Hour), LastCompletedAt: ago(5 * day), ProgressPercent: 100}, ""},
		{"stalled near finish", domain.ActivitySnapshot{LastLoginAt: ago(time.Hour), LastCompletedAt: ago(5 * day), ProgressPercent: 90}, "stalled_near_finish"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := e.Evaluate(tt.snap, now)
			if tt.want == "" {
				assert.Nil(t, rule)
				return
			}
			require.NotNil(t, rule)
			assert.Equal(t, tt.want, rule.ID)
		})
	}
}

func TestEvaluate_IsPure(t *testing.T) {
	e := defaultEvaluator(t)
	snap := domain.ActivitySnapshot{LastLoginAt: ago(8 * day)}
	first := e.Evaluate(snap, now)
	second := e.Evaluate(snap, now)
	require.NotNil(t, first)
	assert.Equal(t, first.ID, second.ID)
}

func TestDefaultCooldown(t *testing.T) {
	assert.Equal(t, day, DefaultCooldown(5))
	assert.Equal(t, 2*day, DefaultCooldown(4))
	assert.Equal(t, 3*day, DefaultCooldown(3))
	assert.Equal(t, 5*day, DefaultCooldown(2))
	assert.Equal(t, 7*day, DefaultCooldown(1))

	r := Rule{Priority: 5, Cooldown: 12 * time.Hour}
	assert.Equal(t, 12*time.Hour, r.EffectiveCooldown())
}

func TestNewEvaluator_RejectsBadRules(t *testing.T) {
	_, err := NewEvaluator([]Rule{{ID: "x", Condition: "moon_phase", Priority: 3, Template: "t"}})
	assert.Error(t, err)

	_, err = NewEvaluator([]Rule{{ID: "x", Condition: ConditionNotStarted, Priority: 9, Template: "t"}})
	assert.Error(t, err)

	_, err = NewEvaluator([]Rule{
		{ID: "x", Condition: ConditionNotStarted, Priority: 1, Template: "t"},
		{ID: "x", Condition: ConditionNotStarted, Priority: 1, Template: "t"},
	})
	assert.Error(t, err)
}
