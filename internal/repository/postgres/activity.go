package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// ActivityRepo builds activity snapshots from logins and unit completions.
// It satisfies nudge.ActivitySource.
type ActivityRepo struct{ db *sql.DB }

func NewActivityRepo(db *sql.DB) *ActivityRepo { return &ActivityRepo{db: db} }

func (r *ActivityRepo) RecordLogin(ctx context.Context, subjectID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_logins (subject_id, last_login_at)
		VALUES ($1, $2)
		ON CONFLICT (subject_id) DO UPDATE
		SET last_login_at = GREATEST(automation_logins.last_login_at, EXCLUDED.last_login_at)
	`, subjectID, at)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

func (r *ActivityRepo) RecordCompletion(ctx context.Context, subjectID, unitID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_unit_completions (subject_id, unit_id, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id, unit_id) DO NOTHING
	`, subjectID, unitID, at)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

// Candidates lists subjects with any login or completion whose id sorts
// after after, ordered by id.
func (r *ActivityRepo) Candidates(ctx context.Context, after string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT subject_id FROM (
			SELECT subject_id FROM automation_logins WHERE subject_id > $1
			UNION
			SELECT subject_id FROM automation_unit_completions WHERE subject_id > $1
		) c
		ORDER BY subject_id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("activity candidates: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Snapshot returns nil when the subject has neither logins nor completions.
func (r *ActivityRepo) Snapshot(ctx context.Context, subjectID string, now time.Time) (*domain.ActivitySnapshot, error) {
	snap := &domain.ActivitySnapshot{SubjectID: subjectID}

	var login sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT last_login_at FROM automation_logins WHERE subject_id = $1`, subjectID,
	).Scan(&login)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read login: %w", err)
	}
	snap.LastLoginAt = timePtr(login)

	var total, done int
	var lastAt sql.NullTime
	var lastTitle, nextTitle sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM automation_units),
			(SELECT COUNT(*) FROM automation_unit_completions WHERE subject_id = $1),
			(SELECT c.completed_at FROM automation_unit_completions c
			  WHERE c.subject_id = $1 ORDER BY c.completed_at DESC LIMIT 1),
			(SELECT u.title FROM automation_unit_completions c JOIN automation_units u ON u.id = c.unit_id
			  WHERE c.subject_id = $1 ORDER BY c.completed_at DESC LIMIT 1),
			(SELECT u.title FROM automation_units u
			  WHERE NOT EXISTS (SELECT 1 FROM automation_unit_completions c
			                    WHERE c.subject_id = $1 AND c.unit_id = u.id)
			  ORDER BY u.position LIMIT 1)
	`, subjectID).Scan(&total, &done, &lastAt, &lastTitle, &nextTitle)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if !login.Valid && done == 0 {
		return nil, nil
	}

	snap.LastCompletedAt = timePtr(lastAt)
	snap.LastCompletedUnit = lastTitle.String
	snap.NextUnitTitle = nextTitle.String
	if total > 0 {
		snap.ProgressPercent = float64(done) * 100 / float64(total)
	}
	if snap.LastCompletedAt != nil {
		snap.CompletedToday = snap.LastCompletedAt.UTC().Format("2006-01-02") == now.UTC().Format("2006-01-02")
	}

	var first, email sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT first_name, email FROM automation_subjects WHERE id = $1`, subjectID,
	).Scan(&first, &email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read subject: %w", err)
	}
	snap.FirstName, snap.Email = first.String, email.String
	return snap, nil
}
