package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// ResourceRepo implements routing.ResourceRepository.
type ResourceRepo struct{ db *sql.DB }

func NewResourceRepo(db *sql.DB) *ResourceRepo { return &ResourceRepo{db: db} }

func (r *ResourceRepo) Put(ctx context.Context, res domain.Resource) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_resources (id, name, niche, active, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, niche = EXCLUDED.niche, active = EXCLUDED.active
	`, res.ID, res.Name, res.Niche, res.Active, nullTime(res.CreatedAt))
	if err != nil {
		return fmt.Errorf("put resource: %w", err)
	}
	return nil
}

// ListActive returns active resources oldest first, ties by id.
func (r *ResourceRepo) ListActive(ctx context.Context) ([]domain.Resource, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, niche, active, created_at
		FROM automation_resources
		WHERE active = TRUE
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []domain.Resource
	for rows.Next() {
		var res domain.Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Niche, &res.Active, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
