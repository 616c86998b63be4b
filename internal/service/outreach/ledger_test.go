package outreach_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/ignite/lifecycle-engine/internal/service/outreach"
)

func TestLedger_NudgeMarkers(t *testing.T) {
	ctx := context.Background()
	l := outreach.NewLedger(memory.NewTagStore())
	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	last, err := l.LastNudge(ctx, "s1", "inactive_7_days")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, l.MarkNudge(ctx, "s1", "inactive_7_days", t0))
	require.NoError(t, l.MarkNudge(ctx, "s1", "inactive_7_days", t0.Add(48*time.Hour)))
	require.NoError(t, l.MarkNudge(ctx, "s1", "unit_completed", t0.Add(time.Hour)))

	last, err = l.LastNudge(ctx, "s1", "inactive_7_days")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, t0.Add(48*time.Hour), *last)

	other, err := l.LastNudge(ctx, "s2", "inactive_7_days")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestLedger_LastOutreachSpansKinds(t *testing.T) {
	ctx := context.Background()
	l := outreach.NewLedger(memory.NewTagStore())
	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.MarkSequenceSend(ctx, "s1", "optin-only", 1, t0))
	last, err := l.LastOutreach(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0, *last)

	require.NoError(t, l.MarkNudge(ctx, "s1", "not_started", t0.Add(time.Hour)))
	last, err = l.LastOutreach(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), *last)

	seq, err := l.LastSequenceSend(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0, *seq)
}
