package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/distlock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/service/sequence"
)

const (
	// DefaultMinStepGap keeps next_send_at strictly after the advancing call
	// even for zero-delay steps.
	DefaultMinStepGap = time.Minute
	DefaultBatchSize  = 500

	// casRetries bounds re-reads when an exit races another writer.
	casRetries = 3
)

// Exit reasons written by the engine.
const (
	ReasonExitTag = "exit_tag"
	ReasonReply   = "reply"
	ReasonClick   = "click"
	ReasonManual  = "manual"
)

// Service implements the enrollment lifecycle. It is safe for concurrent use.
type Service struct {
	repo       Repository
	sequences  Sequences
	locker     distlock.Locker
	now        func() time.Time
	minStepGap time.Duration
	batchSize  int
}

// NewService wires a service with an in-process locker and the wall clock.
func NewService(repo Repository, sequences Sequences) *Service {
	return &Service{
		repo:       repo,
		sequences:  sequences,
		locker:     distlock.NewLocalLocker(),
		now:        time.Now,
		minStepGap: DefaultMinStepGap,
		batchSize:  DefaultBatchSize,
	}
}

// SetLocker replaces the per-pair locker, e.g. with a Redis-backed one.
func (s *Service) SetLocker(l distlock.Locker) {
	if l != nil {
		s.locker = l
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetMinStepGap sets the floor applied to step delays.
func (s *Service) SetMinStepGap(d time.Duration) {
	if d > 0 {
		s.minStepGap = d
	}
}

// SetBatchSize caps Due.
func (s *Service) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// Repository exposes the underlying store for read-only callers.
func (s *Service) Repository() Repository { return s.repo }

// LockKey is the lock key shared by every mutation of a (subject, sequence) pair.
func LockKey(subjectID, sequenceID string) string {
	return "enrollment:" + subjectID + ":" + sequenceID
}

func (s *Service) withLock(ctx context.Context, subjectID, sequenceID string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, LockKey(subjectID, sequenceID))
	if err != nil {
		return fmt.Errorf("lock %s/%s: %w", subjectID, sequenceID, err)
	}
	defer unlock()
	return fn()
}

func (s *Service) definition(ctx context.Context, sequenceID string) (*domain.SequenceDefinition, error) {
	def, err := s.sequences.Get(ctx, sequenceID)
	if err != nil {
		if errors.Is(err, sequence.ErrNotFound) || errors.Is(err, sequence.ErrInvalid) {
			return nil, fmt.Errorf("%w: %s", ErrSequenceNotFound, sequenceID)
		}
		return nil, err
	}
	return def, nil
}

// nextSendAt is now+delay floored at the step gap, never before prev.
func (s *Service) nextSendAt(now time.Time, delay time.Duration, prev *time.Time) time.Time {
	if delay < s.minStepGap {
		delay = s.minStepGap
	}
	t := now.Add(delay)
	if prev != nil && t.Before(*prev) {
		t = *prev
	}
	return t
}

// Enroll starts subjectID on sequenceID. When a live enrollment already
// exists it is returned unchanged. A sequence without active steps yields an
// enrollment that is already completed.
func (s *Service) Enroll(ctx context.Context, subjectID, sequenceID string) (*domain.Enrollment, error) {
	if subjectID == "" || sequenceID == "" {
		return nil, fmt.Errorf("subject and sequence are required")
	}
	def, err := s.definition(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, fmt.Errorf("%w: %s", ErrSequenceInactive, sequenceID)
	}

	var out *domain.Enrollment
	err = s.withLock(ctx, subjectID, sequenceID, func() error {
		live, err := s.repo.FindLive(ctx, subjectID, sequenceID)
		if err != nil {
			return fmt.Errorf("find live enrollment: %w", err)
		}
		if live != nil {
			out = live
			return nil
		}

		now := s.now().UTC()
		e := &domain.Enrollment{
			ID:         uuid.New().String(),
			SubjectID:  subjectID,
			SequenceID: sequenceID,
			EnrolledAt: now,
			UpdatedAt:  now,
		}
		if first, ok := def.FirstActiveStep(); ok {
			e.Status = domain.EnrollmentActive
			e.CurrentStep = first.Position
			next := now.Add(first.Delay.Duration())
			e.NextSendAt = &next
		} else {
			e.Status = domain.EnrollmentCompleted
			e.CompletedAt = &now
		}

		if err := s.repo.Create(ctx, e); err != nil {
			if errors.Is(err, ErrAlreadyLive) {
				// Another process won the insert.
				live, ferr := s.repo.FindLive(ctx, subjectID, sequenceID)
				if ferr != nil {
					return fmt.Errorf("find live enrollment: %w", ferr)
				}
				if live != nil {
					out = live
					return nil
				}
			}
			return fmt.Errorf("create enrollment: %w", err)
		}
		logger.Info("enrollment: enrolled", "enrollment_id", e.ID, "subject_id", subjectID,
			"sequence_id", sequenceID, "status", string(e.Status), "step", e.CurrentStep)
		out = e
		return nil
	})
	return out, err
}

// Advance moves an active enrollment past its current step after a
// successful send.
func (s *Service) Advance(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	return s.advance(ctx, enrollmentID, nil)
}

// AdvanceFrom advances only if the enrollment is still on step. It returns
// ErrConflict when another writer already moved it.
func (s *Service) AdvanceFrom(ctx context.Context, enrollmentID string, step int) (*domain.Enrollment, error) {
	return s.advance(ctx, enrollmentID, &step)
}

func (s *Service) advance(ctx context.Context, enrollmentID string, from *int) (*domain.Enrollment, error) {
	head, err := s.repo.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	var out *domain.Enrollment
	err = s.withLock(ctx, head.SubjectID, head.SequenceID, func() error {
		e, err := s.repo.Get(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if e.Status != domain.EnrollmentActive {
			return fmt.Errorf("%w: %s is %s", ErrNotActive, e.ID, e.Status)
		}
		if from != nil && e.CurrentStep != *from {
			return fmt.Errorf("%w: %s is on step %d, not %d", ErrConflict, e.ID, e.CurrentStep, *from)
		}
		def, err := s.definition(ctx, e.SequenceID)
		if err != nil {
			return err
		}

		expect := Expect{Status: e.Status, Step: e.CurrentStep}
		now := s.now().UTC()
		next := *e
		next.UpdatedAt = now
		if step, ok := def.NextActiveStep(e.CurrentStep); ok {
			at := s.nextSendAt(now, step.Delay.Duration(), e.NextSendAt)
			next.CurrentStep = step.Position
			next.NextSendAt = &at
		} else {
			next.Status = domain.EnrollmentCompleted
			next.NextSendAt = nil
			next.CompletedAt = &now
		}

		if err := s.repo.Update(ctx, &next, expect); err != nil {
			return err
		}
		out = &next
		return nil
	})
	return out, err
}

// Exit ends the live enrollment for the pair. With no live enrollment it
// returns the latest one unchanged, or nil when the subject never enrolled.
func (s *Service) Exit(ctx context.Context, subjectID, sequenceID, reason string) (*domain.Enrollment, error) {
	var out *domain.Enrollment
	err := s.withLock(ctx, subjectID, sequenceID, func() error {
		for i := 0; i < casRetries; i++ {
			live, err := s.repo.FindLive(ctx, subjectID, sequenceID)
			if err != nil {
				return fmt.Errorf("find live enrollment: %w", err)
			}
			if live == nil {
				out, err = s.repo.Latest(ctx, subjectID, sequenceID)
				return err
			}

			now := s.now().UTC()
			next := *live
			next.Status = domain.EnrollmentExited
			next.NextSendAt = nil
			next.ExitedAt = &now
			next.ExitReason = reason
			next.UpdatedAt = now

			err = s.repo.Update(ctx, &next, Expect{Status: live.Status, Step: live.CurrentStep})
			if errors.Is(err, ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
			logger.Info("enrollment: exited", "enrollment_id", next.ID, "subject_id", subjectID,
				"sequence_id", sequenceID, "reason", reason)
			out = &next
			return nil
		}
		return ErrConflict
	})
	return out, err
}

// Pause holds an active enrollment. Due never returns paused enrollments.
func (s *Service) Pause(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	return s.transition(ctx, enrollmentID, domain.EnrollmentPaused, func(e *domain.Enrollment, _ time.Time) {})
}

// Resume releases a paused enrollment. A send time that passed while paused
// makes the enrollment due on the next tick.
func (s *Service) Resume(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	return s.transition(ctx, enrollmentID, domain.EnrollmentActive, func(e *domain.Enrollment, now time.Time) {
		if e.NextSendAt == nil {
			at := now
			e.NextSendAt = &at
		}
	})
}

func (s *Service) transition(ctx context.Context, enrollmentID string, to domain.EnrollmentStatus, mutate func(*domain.Enrollment, time.Time)) (*domain.Enrollment, error) {
	head, err := s.repo.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	var out *domain.Enrollment
	err = s.withLock(ctx, head.SubjectID, head.SequenceID, func() error {
		e, err := s.repo.Get(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if e.Status == to || !domain.CanTransition(e.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
		}
		now := s.now().UTC()
		next := *e
		next.Status = to
		next.UpdatedAt = now
		mutate(&next, now)
		if err := s.repo.Update(ctx, &next, Expect{Status: e.Status, Step: e.CurrentStep}); err != nil {
			return err
		}
		out = &next
		return nil
	})
	return out, err
}

// Due returns active enrollments whose send time has arrived, oldest first.
func (s *Service) Due(ctx context.Context, now time.Time) ([]domain.Enrollment, error) {
	return s.repo.Due(ctx, now, s.batchSize)
}

// Get returns one enrollment.
func (s *Service) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	return s.repo.Get(ctx, id)
}

// ForSubject lists a subject's enrollments, newest first.
func (s *Service) ForSubject(ctx context.Context, subjectID string) ([]domain.Enrollment, error) {
	return s.repo.ListBySubject(ctx, subjectID)
}

// HandleTag exits every live enrollment whose sequence names label as its
// exit tag.
func (s *Service) HandleTag(ctx context.Context, subjectID, label string) ([]domain.Enrollment, error) {
	label = domain.NormalizeLabel(label)
	return s.exitMatching(ctx, subjectID, ReasonExitTag+":"+label, func(def *domain.SequenceDefinition) bool {
		return def.ExitTag != "" && domain.NormalizeLabel(def.ExitTag) == label
	})
}

// HandleEngagement exits live enrollments whose sequence exits on the given
// signal. A non-empty sequenceID restricts the exit to that sequence.
func (s *Service) HandleEngagement(ctx context.Context, subjectID string, kind domain.EngagementKind, sequenceID string) ([]domain.Enrollment, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown engagement kind %q", kind)
	}
	reason := ReasonReply
	if kind == domain.EngagementClick {
		reason = ReasonClick
	}
	return s.exitMatching(ctx, subjectID, reason, func(def *domain.SequenceDefinition) bool {
		if sequenceID != "" && def.ID != sequenceID {
			return false
		}
		if kind == domain.EngagementReply {
			return def.ExitOnReply
		}
		return def.ExitOnClick
	})
}

func (s *Service) exitMatching(ctx context.Context, subjectID, reason string, match func(*domain.SequenceDefinition) bool) ([]domain.Enrollment, error) {
	live, err := s.repo.ListLive(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list live enrollments: %w", err)
	}
	var exited []domain.Enrollment
	var errs []error
	for _, e := range live {
		def, err := s.sequences.Get(ctx, e.SequenceID)
		if err != nil {
			logger.Warn("enrollment: sequence lookup failed during exit matching",
				"sequence_id", e.SequenceID, "error", err.Error())
			continue
		}
		if !match(def) {
			continue
		}
		out, err := s.Exit(ctx, subjectID, e.SequenceID, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out != nil && out.Status == domain.EnrollmentExited {
			exited = append(exited, *out)
		}
	}
	return exited, errors.Join(errs...)
}
