package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// TagStore implements tagging.Store against automation_tags. Current rows
// carry is_unique = true and are kept unique by a partial index; history
// rows do not.
type TagStore struct{ db *sql.DB }

func NewTagStore(db *sql.DB) *TagStore { return &TagStore{db: db} }

func (s *TagStore) Upsert(ctx context.Context, tag domain.Tag) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO automation_tags (subject_id, label, value, is_unique, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (subject_id, label) WHERE is_unique
		DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at
		WHERE automation_tags.value IS DISTINCT FROM EXCLUDED.value
		RETURNING id
	`, tag.SubjectID, tag.Label, tag.Value, tag.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert tag: %w", err)
	}
	return true, nil
}

func (s *TagStore) Append(ctx context.Context, tag domain.Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_tags (subject_id, label, value, is_unique, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
	`, tag.SubjectID, tag.Label, tag.Value, tag.CreatedAt)
	if err != nil {
		return fmt.Errorf("append tag: %w", err)
	}
	return nil
}

func (s *TagStore) Current(ctx context.Context, subjectID, label string) (*domain.Tag, error) {
	t := &domain.Tag{}
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, label, value, created_at
		FROM automation_tags
		WHERE subject_id = $1 AND label = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, subjectID, label).Scan(&t.SubjectID, &t.Label, &t.Value, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current tag: %w", err)
	}
	return t, nil
}

func (s *TagStore) ForSubject(ctx context.Context, subjectID string) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, label, value, created_at
		FROM automation_tags
		WHERE subject_id = $1
		ORDER BY created_at, id
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.SubjectID, &t.Label, &t.Value, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TagStore) SubjectsWithTag(ctx context.Context, label string, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT subject_id
		FROM automation_tags
		WHERE label = $1 AND created_at >= $2
		ORDER BY subject_id
	`, label, since)
	if err != nil {
		return nil, fmt.Errorf("subjects with tag: %w", err)
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

func (s *TagStore) Remove(ctx context.Context, subjectID, label string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM automation_tags WHERE subject_id = $1 AND label = $2`,
		subjectID, label,
	)
	if err != nil {
		return 0, fmt.Errorf("remove tag: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
