package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// SubjectRepo reads subjects and writes the engine-owned derived fields.
type SubjectRepo struct{ db *sql.DB }

func NewSubjectRepo(db *sql.DB) *SubjectRepo { return &SubjectRepo{db: db} }

const subjectColumns = `id, category, email, first_name, created_at, last_activity_at,
		       score, tier, assigned_resource`

func scanSubject(sc interface{ Scan(...any) error }) (*domain.Subject, error) {
	s := &domain.Subject{}
	var score sql.NullInt64
	var lastActivity sql.NullTime
	if err := sc.Scan(&s.ID, &s.Category, &s.Email, &s.FirstName, &s.CreatedAt, &lastActivity,
		&score, &s.Tier, &s.AssignedResource); err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		s.Score = &v
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		s.LastActivityAt = &t
	}
	return s, nil
}

// Put inserts or refreshes identity fields. Derived fields are untouched.
func (r *SubjectRepo) Put(ctx context.Context, s domain.Subject) error {
	if s.Category == "" {
		s.Category = domain.SubjectLead
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_subjects (id, category, email, first_name, created_at, last_activity_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), $6, NOW())
		ON CONFLICT (id) DO UPDATE
		SET category = EXCLUDED.category, email = EXCLUDED.email, first_name = EXCLUDED.first_name,
		    last_activity_at = EXCLUDED.last_activity_at, updated_at = NOW()
	`, s.ID, s.Category, s.Email, s.FirstName, nullTime(s.CreatedAt), s.LastActivityAt)
	if err != nil {
		return fmt.Errorf("put subject: %w", err)
	}
	return nil
}

// Get returns nil when the subject does not exist.
func (r *SubjectRepo) Get(ctx context.Context, id string) (*domain.Subject, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subjectColumns+`
		FROM automation_subjects
		WHERE id = $1
	`, id)
	s, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return s, nil
}

func (r *SubjectRepo) List(ctx context.Context) ([]domain.Subject, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subjectColumns+`
		FROM automation_subjects
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var out []domain.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SubjectRepo) UpdateDerived(ctx context.Context, id string, score domain.Score) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_subjects (id, score, tier, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET score = EXCLUDED.score, tier = EXCLUDED.tier, updated_at = NOW()
	`, id, score.Value, string(score.Tier))
	if err != nil {
		return fmt.Errorf("update subject score: %w", err)
	}
	return nil
}

func (r *SubjectRepo) AssignedResource(ctx context.Context, id string) (string, error) {
	var resource string
	err := r.db.QueryRowContext(ctx,
		`SELECT assigned_resource FROM automation_subjects WHERE id = $1`, id,
	).Scan(&resource)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read assigned resource: %w", err)
	}
	return resource, nil
}

func (r *SubjectRepo) SetAssignedResource(ctx context.Context, id, resourceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_subjects (id, assigned_resource, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET assigned_resource = EXCLUDED.assigned_resource, updated_at = NOW()
	`, id, resourceID)
	if err != nil {
		return fmt.Errorf("set assigned resource: %w", err)
	}
	return nil
}
