package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/distlock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/render"
	"github.com/ignite/lifecycle-engine/internal/sender"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
	"github.com/ignite/lifecycle-engine/internal/service/sequence"
)

const DefaultSendTimeout = 15 * time.Second

// Enrollments is the part of the enrollment state machine the dispatcher
// drives.
type Enrollments interface {
	Due(ctx context.Context, now time.Time) ([]domain.Enrollment, error)
	Get(ctx context.Context, id string) (*domain.Enrollment, error)
	AdvanceFrom(ctx context.Context, enrollmentID string, step int) (*domain.Enrollment, error)
}

// Sequences looks up definitions by id.
type Sequences interface {
	Get(ctx context.Context, id string) (*domain.SequenceDefinition, error)
}

// Subjects reads subject records; a missing subject is (nil, nil).
type Subjects interface {
	Get(ctx context.Context, id string) (*domain.Subject, error)
}

// Renderer renders Liquid templates.
type Renderer interface {
	Render(name, tpl string, vars map[string]any) (string, error)
}

// SendLedger records sequence sends for the nudge quiet period.
type SendLedger interface {
	MarkSequenceSend(ctx context.Context, subjectID, sequenceID string, step int, at time.Time) error
}

// DispatchConfig tunes one dispatch tick.
type DispatchConfig struct {
	Workers      int
	SendTimeout  time.Duration
	SoftDeadline time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.SoftDeadline <= 0 {
		c.SoftDeadline = DefaultSoftDeadline
	}
	return c
}

// DispatchScheduler sends the current step of every due enrollment and
// advances it after a successful send. A failed send leaves the enrollment
// untouched so the next tick retries it under the same idempotency key.
type DispatchScheduler struct {
	enrollments Enrollments
	sequences   Sequences
	subjects    Subjects
	sender      sender.Sender
	renderer    Renderer
	ledger      SendLedger
	locker      distlock.Locker
	recorder    TickRecorder
	cfg         DispatchConfig
	now         func() time.Time
	guard       tickGuard
}

func NewDispatchScheduler(enrollments Enrollments, sequences Sequences, subjects Subjects,
	s sender.Sender, renderer Renderer, ledger SendLedger) *DispatchScheduler {
	return &DispatchScheduler{
		enrollments: enrollments,
		sequences:   sequences,
		subjects:    subjects,
		sender:      s,
		renderer:    renderer,
		ledger:      ledger,
		locker:      distlock.NewLocalLocker(),
		cfg:         DispatchConfig{}.withDefaults(),
		now:         time.Now,
	}
}

// SetConfig replaces the tick tuning; zero fields take defaults.
func (d *DispatchScheduler) SetConfig(cfg DispatchConfig) { d.cfg = cfg.withDefaults() }

// SetLocker sets the per-enrollment locker shared with other dispatchers.
func (d *DispatchScheduler) SetLocker(l distlock.Locker) {
	if l != nil {
		d.locker = l
	}
}

// SetTickLock sets the cross-process lock held for a whole tick.
func (d *DispatchScheduler) SetTickLock(l distlock.DistLock) { d.guard.lock = l }

func (d *DispatchScheduler) SetRecorder(r TickRecorder) { d.recorder = r }

func (d *DispatchScheduler) SetClock(now func() time.Time) { d.now = now }

// IdempotencyKey identifies the send of one step of one enrollment.
func IdempotencyKey(enrollmentID string, step int) string {
	return "enrollment:" + enrollmentID + ":step:" + strconv.Itoa(step)
}

// dispatchKey is distinct from enrollment.LockKey: AdvanceFrom takes that one
// itself.
func dispatchKey(enrollmentID string) string { return "dispatch:" + enrollmentID }

// Tick runs one dispatch pass. Per-item failures are counted, never
// returned; the error is for the pass as a whole.
func (d *DispatchScheduler) Tick(ctx context.Context) (domain.TickSummary, error) {
	leave, err := d.guard.enter(ctx)
	if err != nil {
		return domain.TickSummary{}, err
	}
	defer leave()

	started := d.now().UTC()
	summary := newSummary(domain.TickDispatch, started)

	due, err := d.enrollments.Due(ctx, started)
	if err != nil {
		finish(ctx, d.recorder, summary, d.now().UTC())
		return summary, fmt.Errorf("list due enrollments: %w", err)
	}

	deadline := started.Add(d.cfg.SoftDeadline)
	results := runBounded(ctx, len(due), d.cfg.Workers, deadline, d.now, func(ctx context.Context, i int) outcome {
		return d.dispatch(ctx, due[i])
	})
	tally(&summary, results)
	return finish(ctx, d.recorder, summary, d.now().UTC()), nil
}

func (d *DispatchScheduler) dispatch(ctx context.Context, item domain.Enrollment) outcome {
	unlock, err := d.locker.TryLock(ctx, dispatchKey(item.ID))
	if err != nil {
		if errors.Is(err, distlock.ErrNotAcquired) {
			return outcomeSkipped
		}
		logger.Warn("dispatch: lock failed", "enrollment_id", item.ID, "error", err.Error())
		return outcomeFailed
	}
	defer unlock()

	now := d.now().UTC()
	e, err := d.enrollments.Get(ctx, item.ID)
	if err != nil {
		if errors.Is(err, enrollment.ErrNotFound) {
			return outcomeSkipped
		}
		logger.Warn("dispatch: re-read failed", "enrollment_id", item.ID, "error", err.Error())
		return outcomeFailed
	}
	if e == nil || !e.IsDue(now) {
		return outcomeSkipped
	}

	def, err := d.sequences.Get(ctx, e.SequenceID)
	if err != nil {
		if errors.Is(err, sequence.ErrNotFound) || errors.Is(err, sequence.ErrInvalid) {
			logger.Warn("dispatch: sequence unavailable", "enrollment_id", e.ID, "sequence_id", e.SequenceID, "error", err.Error())
			return outcomeSkipped
		}
		logger.Warn("dispatch: sequence lookup failed", "enrollment_id", e.ID, "error", err.Error())
		return outcomeFailed
	}
	if !def.Active {
		return outcomeSkipped
	}

	step, ok := def.StepAt(e.CurrentStep)
	if !ok || !step.Active {
		// The definition changed under the enrollment; move on without sending.
		if _, err := d.enrollments.AdvanceFrom(ctx, e.ID, e.CurrentStep); err != nil && !errors.Is(err, enrollment.ErrConflict) {
			logger.Warn("dispatch: skip of retired step failed", "enrollment_id", e.ID, "step", e.CurrentStep, "error", err.Error())
			return outcomeFailed
		}
		return outcomeSkipped
	}

	subj, err := d.subjects.Get(ctx, e.SubjectID)
	if err != nil {
		logger.Warn("dispatch: subject lookup failed", "enrollment_id", e.ID, "subject_id", e.SubjectID, "error", err.Error())
		return outcomeFailed
	}
	if subj == nil {
		logger.Warn("dispatch: subject missing", "enrollment_id", e.ID, "subject_id", e.SubjectID)
		return outcomeSkipped
	}

	msg, err := d.compose(e, def, step, subj)
	if err != nil {
		logger.Error("dispatch: render failed", "enrollment_id", e.ID, "step", step.Position, "error", err.Error())
		return outcomeFailed
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.sender.Send(sendCtx, msg)
	cancel()
	if err != nil {
		logger.Warn("dispatch: send failed, will retry next tick",
			"enrollment_id", e.ID, "subject_id", e.SubjectID, "step", step.Position, "error", err.Error())
		return outcomeFailed
	}

	if _, err := d.enrollments.AdvanceFrom(ctx, e.ID, step.Position); err != nil {
		switch {
		case errors.Is(err, enrollment.ErrConflict), errors.Is(err, enrollment.ErrNotActive):
			logger.Info("dispatch: enrollment moved during send", "enrollment_id", e.ID, "error", err.Error())
		default:
			logger.Error("dispatch: advance failed after send", "enrollment_id", e.ID, "step", step.Position, "error", err.Error())
		}
	}
	if d.ledger != nil {
		if err := d.ledger.MarkSequenceSend(ctx, e.SubjectID, e.SequenceID, step.Position, now); err != nil {
			logger.Warn("dispatch: outreach marker not written", "subject_id", e.SubjectID, "error", err.Error())
		}
	}
	logger.Info("dispatch: step sent", "enrollment_id", e.ID, "subject_id", e.SubjectID,
		"sequence_id", e.SequenceID, "step", step.Position)
	return outcomeSent
}

func (d *DispatchScheduler) compose(e *domain.Enrollment, def *domain.SequenceDefinition, step domain.StepDefinition, subj *domain.Subject) (domain.Message, error) {
	vars := render.SubjectVars(subj)
	vars["sequence_name"] = def.Name
	vars["step"] = step.Position

	prefix := "sequence:" + def.ID + ":" + strconv.Itoa(step.Position)
	subject, err := d.renderer.Render(prefix+":subject", step.Subject, vars)
	if err != nil {
		return domain.Message{}, err
	}
	body, err := d.renderer.Render(prefix+":body", step.Body, vars)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		SubjectID:      e.SubjectID,
		To:             subj.Email,
		Channel:        def.ChannelOrDefault(),
		Subject:        subject,
		Body:           body,
		IdempotencyKey: IdempotencyKey(e.ID, step.Position),
		Metadata: map[string]string{
			"kind":          "sequence",
			"sequence_id":   def.ID,
			"enrollment_id": e.ID,
			"step":          strconv.Itoa(step.Position),
		},
	}, nil
}
