package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/service/nudge"
	"github.com/ignite/lifecycle-engine/internal/service/sequence"
)

func TestNudgeRules(t *testing.T) {
	assert.Equal(t, nudge.DefaultRules(), nudgeRules(nil))

	rules := nudgeRules([]config.RuleConfig{{
		ID: "lapsed", Condition: "no_recent_login", MinElapsed: config.Duration(10 * 24 * time.Hour),
		Priority: 4, Template: "Come back",
	}})
	require.Len(t, rules, 1)
	assert.Equal(t, nudge.ConditionNoRecentLogin, rules[0].Condition)
	assert.Equal(t, 10*24*time.Hour, rules[0].MinElapsed)
	assert.Equal(t, 2*24*time.Hour, rules[0].EffectiveCooldown())

	_, err := nudge.NewEvaluator(rules)
	assert.NoError(t, err)
}

func TestBuildSender_Webhook(t *testing.T) {
	var got domain.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := config.Default().Sender
	cfg.Webhook.URL = srv.URL

	s, err := buildSender(context.Background(), cfg, nil)
	require.NoError(t, err)

	// Without SES the webhook also carries the email channel.
	err = s.Send(context.Background(), domain.Message{SubjectID: "s1", Channel: domain.ChannelEmail, Body: "hi", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, "k1", got.IdempotencyKey)
}

func TestBuildSender_NoChannel(t *testing.T) {
	_, err := buildSender(context.Background(), config.Default().Sender, nil)
	assert.Error(t, err)
}

func TestBuildSender_DryRun(t *testing.T) {
	cfg := config.Default().Sender
	cfg.DryRun = true

	s, err := buildSender(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Send(context.Background(), domain.Message{SubjectID: "s1", Channel: domain.ChannelWebhook, IdempotencyKey: "k2"}))
}

func TestSequenceSource(t *testing.T) {
	st := newStores(nil)
	ctx := context.Background()

	src, err := sequenceSource(ctx, config.SequencesConfig{Source: "db", Path: "seq.yaml"}, st)
	require.NoError(t, err)
	assert.Equal(t, sequence.FileSource{Path: "seq.yaml"}, src)

	_, err = sequenceSource(ctx, config.SequencesConfig{Source: "s3"}, st)
	assert.Error(t, err)

	_, err = sequenceSource(ctx, config.SequencesConfig{Source: "ftp"}, st)
	assert.Error(t, err)
}
