package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// ActivitySource supplies per-subject learning activity.
type ActivitySource interface {
	// Candidates lists subjects with activity records whose id sorts after
	// after, in id order, at most limit. An empty after starts from the
	// beginning.
	Candidates(ctx context.Context, after string, limit int) ([]string, error)
	// Snapshot builds the activity snapshot of one subject at now, or nil
	// when the subject has no activity record.
	Snapshot(ctx context.Context, subjectID string, now time.Time) (*domain.ActivitySnapshot, error)
}

// Ledger records and reads outreach markers.
type Ledger interface {
	LastNudge(ctx context.Context, subjectID, ruleID string) (*time.Time, error)
	MarkNudge(ctx context.Context, subjectID, ruleID string, at time.Time) error
	LastSequenceSend(ctx context.Context, subjectID string) (*time.Time, error)
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg domain.Message) error
}

// Renderer renders Liquid templates.
type Renderer interface {
	Render(name, tpl string, vars map[string]any) (string, error)
}

// DefaultSendTimeout bounds one nudge delivery attempt.
const DefaultSendTimeout = 15 * time.Second

// DefaultQuietPeriod holds nudges back after a sequence message. It matches
// the shortest rule cooldown.
const DefaultQuietPeriod = 24 * time.Hour

// Outcome is what happened to one subject in one tick.
type Outcome string

const (
	OutcomeNoActivity Outcome = "no_activity"
	OutcomeNoMatch    Outcome = "no_match"
	OutcomeCooldown   Outcome = "cooldown"
	OutcomeQuiet      Outcome = "quiet_period"
	OutcomeSent       Outcome = "sent"
)

// Result is the per-subject evaluation outcome.
type Result struct {
	Outcome   Outcome                `json:"outcome"`
	Candidate *domain.NudgeCandidate `json:"candidate,omitempty"`
}

// Service runs the evaluator against live activity and sends the chosen nudge.
type Service struct {
	evaluator   *Evaluator
	activity    ActivitySource
	ledger      Ledger
	sender      Sender
	renderer    Renderer
	channel     string
	quietPeriod time.Duration
	sendTimeout time.Duration
}

func NewService(evaluator *Evaluator, activity ActivitySource, ledger Ledger, sender Sender, renderer Renderer) *Service {
	return &Service{
		evaluator:   evaluator,
		activity:    activity,
		ledger:      ledger,
		sender:      sender,
		renderer:    renderer,
		channel:     domain.ChannelEmail,
		quietPeriod: DefaultQuietPeriod,
		sendTimeout: DefaultSendTimeout,
	}
}

// SetChannel selects the delivery channel for nudges.
func (s *Service) SetChannel(channel string) {
	if channel != "" {
		s.channel = channel
	}
}

// SetQuietPeriod suppresses nudges for subjects that received a sequence
// message within d. Zero disables the check.
func (s *Service) SetQuietPeriod(d time.Duration) { s.quietPeriod = d }

// SetSendTimeout bounds each delivery attempt. A timed out send is a failure.
func (s *Service) SetSendTimeout(d time.Duration) {
	if d > 0 {
		s.sendTimeout = d
	}
}

// Candidates lists subjects to evaluate, paging by subject id.
func (s *Service) Candidates(ctx context.Context, after string, limit int) ([]string, error) {
	return s.activity.Candidates(ctx, after, limit)
}

// EvaluateSubject evaluates one subject and sends at most one nudge. A send
// failure is returned and no cooldown marker is written, so the next tick
// retries.
func (s *Service) EvaluateSubject(ctx context.Context, subjectID string, now time.Time) (Result, error) {
	snap, err := s.activity.Snapshot(ctx, subjectID, now)
	if err != nil {
		return Result{}, fmt.Errorf("activity snapshot: %w", err)
	}
	if snap == nil {
		return Result{Outcome: OutcomeNoActivity}, nil
	}

	rule := s.evaluator.Evaluate(*snap, now)
	if rule == nil {
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	last, err := s.ledger.LastNudge(ctx, subjectID, rule.ID)
	if err != nil {
		return Result{}, fmt.Errorf("read cooldown marker: %w", err)
	}
	if last != nil && now.Sub(*last) < rule.EffectiveCooldown() {
		logger.Debug("nudge: rule cooling down", "subject_id", subjectID, "rule_id", rule.ID)
		return Result{Outcome: OutcomeCooldown}, nil
	}

	if s.quietPeriod > 0 {
		lastSeq, err := s.ledger.LastSequenceSend(ctx, subjectID)
		if err != nil {
			return Result{}, fmt.Errorf("read sequence marker: %w", err)
		}
		if lastSeq != nil && now.Sub(*lastSeq) < s.quietPeriod {
			return Result{Outcome: OutcomeQuiet}, nil
		}
	}

	vars := templateVars(*snap, now)
	body, err := s.renderer.Render("nudge:"+rule.ID+":body", rule.Template, vars)
	if err != nil {
		return Result{}, fmt.Errorf("render nudge %s: %w", rule.ID, err)
	}
	subject, err := s.renderer.Render("nudge:"+rule.ID+":subject", rule.Subject, vars)
	if err != nil {
		return Result{}, fmt.Errorf("render nudge %s subject: %w", rule.ID, err)
	}

	cand := &domain.NudgeCandidate{SubjectID: subjectID, RuleID: rule.ID, Subject: subject, Message: body}
	msg := domain.Message{
		SubjectID:      subjectID,
		To:             snap.Email,
		Channel:        s.channel,
		Subject:        subject,
		Body:           body,
		IdempotencyKey: IdempotencyKey(subjectID, rule.ID, now),
		Metadata:       map[string]string{"kind": "nudge", "rule_id": rule.ID},
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	err = s.sender.Send(sendCtx, msg)
	cancel()
	if err != nil {
		return Result{Candidate: cand}, fmt.Errorf("send nudge %s: %w", rule.ID, err)
	}
	if err := s.ledger.MarkNudge(ctx, subjectID, rule.ID, now); err != nil {
		// The message went out; the key keeps a same-day retry from resending.
		logger.Error("nudge: cooldown marker not written", "subject_id", subjectID, "rule_id", rule.ID, "error", err.Error())
	}
	logger.Info("nudge: sent", "subject_id", subjectID, "rule_id", rule.ID, "priority", rule.Priority)
	return Result{Outcome: OutcomeSent, Candidate: cand}, nil
}

// IdempotencyKey is stable for one rule, subject and UTC day.
func IdempotencyKey(subjectID, ruleID string, now time.Time) string {
	return "nudge:" + subjectID + ":" + ruleID + ":" + now.UTC().Format("2006-01-02")
}
