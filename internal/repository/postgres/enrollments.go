package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
)

// EnrollmentRepo implements enrollment.Repository. The partial unique index
// automation_enrollments_live_uq enforces one live row per pair; Update is a
// compare-and-swap on (status, current_step).
type EnrollmentRepo struct{ db *sql.DB }

func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollmentColumns = `id, subject_id, sequence_id, status, current_step, next_send_at,
		       enrolled_at, updated_at, completed_at, exited_at, exit_reason`

func scanEnrollment(sc interface{ Scan(...any) error }) (*domain.Enrollment, error) {
	e := &domain.Enrollment{}
	var next, completed, exited sql.NullTime
	if err := sc.Scan(&e.ID, &e.SubjectID, &e.SequenceID, &e.Status, &e.CurrentStep, &next,
		&e.EnrolledAt, &e.UpdatedAt, &completed, &exited, &e.ExitReason); err != nil {
		return nil, err
	}
	e.NextSendAt = timePtr(next)
	e.CompletedAt = timePtr(completed)
	e.ExitedAt = timePtr(exited)
	return e, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *EnrollmentRepo) one(ctx context.Context, query string, args ...any) (*domain.Enrollment, error) {
	e, err := scanEnrollment(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *EnrollmentRepo) many(ctx context.Context, query string, args ...any) ([]domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EnrollmentRepo) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := r.one(ctx, `SELECT `+enrollmentColumns+` FROM automation_enrollments WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	if e == nil {
		return nil, enrollment.ErrNotFound
	}
	return e, nil
}

func (r *EnrollmentRepo) FindLive(ctx context.Context, subjectID, sequenceID string) (*domain.Enrollment, error) {
	e, err := r.one(ctx, `
		SELECT `+enrollmentColumns+`
		FROM automation_enrollments
		WHERE subject_id = $1 AND sequence_id = $2 AND status IN ('active', 'paused')
	`, subjectID, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("find live enrollment: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) Latest(ctx context.Context, subjectID, sequenceID string) (*domain.Enrollment, error) {
	e, err := r.one(ctx, `
		SELECT `+enrollmentColumns+`
		FROM automation_enrollments
		WHERE subject_id = $1 AND sequence_id = $2
		ORDER BY enrolled_at DESC, updated_at DESC
		LIMIT 1
	`, subjectID, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("latest enrollment: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) ListLive(ctx context.Context, subjectID string) ([]domain.Enrollment, error) {
	out, err := r.many(ctx, `
		SELECT `+enrollmentColumns+`
		FROM automation_enrollments
		WHERE subject_id = $1 AND status IN ('active', 'paused')
		ORDER BY sequence_id
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list live enrollments: %w", err)
	}
	return out, nil
}

func (r *EnrollmentRepo) ListBySubject(ctx context.Context, subjectID string) ([]domain.Enrollment, error) {
	out, err := r.many(ctx, `
		SELECT `+enrollmentColumns+`
		FROM automation_enrollments
		WHERE subject_id = $1
		ORDER BY enrolled_at DESC, id
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return out, nil
}

func (r *EnrollmentRepo) Create(ctx context.Context, e *domain.Enrollment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_enrollments
			(id, subject_id, sequence_id, status, current_step, next_send_at,
			 enrolled_at, updated_at, completed_at, exited_at, exit_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.SubjectID, e.SequenceID, string(e.Status), e.CurrentStep, e.NextSendAt,
		e.EnrolledAt, e.UpdatedAt, e.CompletedAt, e.ExitedAt, e.ExitReason)
	if isUniqueViolation(err) {
		return enrollment.ErrAlreadyLive
	}
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

func (r *EnrollmentRepo) Update(ctx context.Context, e *domain.Enrollment, expect enrollment.Expect) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE automation_enrollments
		SET status = $2, current_step = $3, next_send_at = $4, updated_at = $5,
		    completed_at = $6, exited_at = $7, exit_reason = $8
		WHERE id = $1 AND status = $9 AND current_step = $10
	`, e.ID, string(e.Status), e.CurrentStep, e.NextSendAt, e.UpdatedAt,
		e.CompletedAt, e.ExitedAt, e.ExitReason, string(expect.Status), expect.Step)
	if isUniqueViolation(err) {
		return enrollment.ErrAlreadyLive
	}
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM automation_enrollments WHERE id = $1)`, e.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if !exists {
		return enrollment.ErrNotFound
	}
	return enrollment.ErrConflict
}

func (r *EnrollmentRepo) Due(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	if limit <= 0 {
		limit = enrollment.DefaultBatchSize
	}
	out, err := r.many(ctx, `
		SELECT `+enrollmentColumns+`
		FROM automation_enrollments
		WHERE status = 'active' AND next_send_at IS NOT NULL AND next_send_at <= $1
		ORDER BY next_send_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due enrollments: %w", err)
	}
	return out, nil
}
