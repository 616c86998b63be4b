package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// SequenceSource loads definitions from automation_sequences and their
// steps. It satisfies sequence.Source.
type SequenceSource struct{ db *sql.DB }

func NewSequenceSource(db *sql.DB) *SequenceSource { return &SequenceSource{db: db} }

func (s *SequenceSource) Load(ctx context.Context) ([]domain.SequenceDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, active, trigger_type, trigger_value, trigger_namespace,
		       exit_tag, exit_on_reply, exit_on_click, channel
		FROM automation_sequences
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load sequences: %w", err)
	}
	defer rows.Close()

	var defs []domain.SequenceDefinition
	index := make(map[string]int)
	for rows.Next() {
		var d domain.SequenceDefinition
		var spec domain.TriggerSpec
		if err := rows.Scan(&d.ID, &d.Name, &d.Active, &spec.Type, &spec.Value, &spec.Namespace,
			&d.ExitTag, &d.ExitOnReply, &d.ExitOnClick, &d.Channel); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		d.Trigger = spec.Trigger()
		d.ExitTag = domain.NormalizeLabel(d.ExitTag)
		index[d.ID] = len(defs)
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	steps, err := s.db.QueryContext(ctx, `
		SELECT sequence_id, position, subject, body, delay_days, delay_hours, delay_minutes, active
		FROM automation_sequence_steps
		ORDER BY sequence_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("load sequence steps: %w", err)
	}
	defer steps.Close()

	for steps.Next() {
		var seqID string
		var st domain.StepDefinition
		if err := steps.Scan(&seqID, &st.Position, &st.Subject, &st.Body,
			&st.Delay.Days, &st.Delay.Hours, &st.Delay.Minutes, &st.Active); err != nil {
			return nil, fmt.Errorf("scan sequence step: %w", err)
		}
		if i, ok := index[seqID]; ok {
			defs[i].Steps = append(defs[i].Steps, st)
		}
	}
	return defs, steps.Err()
}

// Save replaces a definition and its steps in one transaction.
func (s *SequenceSource) Save(ctx context.Context, d domain.SequenceDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	spec := domain.SpecOf(d.Trigger)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO automation_sequences
			(id, name, active, trigger_type, trigger_value, trigger_namespace,
			 exit_tag, exit_on_reply, exit_on_click, channel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, active = EXCLUDED.active,
		    trigger_type = EXCLUDED.trigger_type, trigger_value = EXCLUDED.trigger_value,
		    trigger_namespace = EXCLUDED.trigger_namespace, exit_tag = EXCLUDED.exit_tag,
		    exit_on_reply = EXCLUDED.exit_on_reply, exit_on_click = EXCLUDED.exit_on_click,
		    channel = EXCLUDED.channel, updated_at = NOW()
	`, d.ID, d.Name, d.Active, string(spec.Type), spec.Value, spec.Namespace,
		d.ExitTag, d.ExitOnReply, d.ExitOnClick, d.ChannelOrDefault()); err != nil {
		return fmt.Errorf("save sequence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM automation_sequence_steps WHERE sequence_id = $1`, d.ID); err != nil {
		return fmt.Errorf("clear sequence steps: %w", err)
	}
	for _, st := range d.Steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO automation_sequence_steps
				(sequence_id, position, subject, body, delay_days, delay_hours, delay_minutes, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, d.ID, st.Position, st.Subject, st.Body, st.Delay.Days, st.Delay.Hours, st.Delay.Minutes, st.Active); err != nil {
			return fmt.Errorf("save step %d: %w", st.Position, err)
		}
	}
	return tx.Commit()
}
