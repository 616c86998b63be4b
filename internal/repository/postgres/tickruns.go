package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// TickRunRepo persists tick summaries to automation_tick_runs.
type TickRunRepo struct{ db *sql.DB }

func NewTickRunRepo(db *sql.DB) *TickRunRepo { return &TickRunRepo{db: db} }

func (r *TickRunRepo) Record(ctx context.Context, s domain.TickSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_tick_runs
			(id, kind, started_at, finished_at, attempted, sent, failed, skipped, skipped_cooldown, deferred)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.Kind, s.StartedAt, s.FinishedAt, s.Attempted, s.Sent, s.Failed,
		s.Skipped, s.SkippedCooldown, s.Deferred)
	if err != nil {
		return fmt.Errorf("record tick run: %w", err)
	}
	return nil
}

// Recent returns up to limit summaries, newest first. An empty kind matches
// every kind.
func (r *TickRunRepo) Recent(ctx context.Context, kind string, limit int) ([]domain.TickSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, started_at, finished_at, attempted, sent, failed, skipped, skipped_cooldown, deferred
		FROM automation_tick_runs
		WHERE $1 = '' OR kind = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("recent tick runs: %w", err)
	}
	defer rows.Close()

	var out []domain.TickSummary
	for rows.Next() {
		var s domain.TickSummary
		if err := rows.Scan(&s.ID, &s.Kind, &s.StartedAt, &s.FinishedAt, &s.Attempted, &s.Sent,
			&s.Failed, &s.Skipped, &s.SkippedCooldown, &s.Deferred); err != nil {
			return nil, fmt.Errorf("scan tick run: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
