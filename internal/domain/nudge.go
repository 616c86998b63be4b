package domain

import "time"

// ActivitySnapshot is a subject's recent learning activity, built fresh each
// behavioral tick.
type ActivitySnapshot struct {
	SubjectID         string     `json:"subject_id"`
	FirstName         string     `json:"first_name"`
	Email             string     `json:"email"`
	LastLoginAt       *time.Time `json:"last_login_at"`
	LastCompletedAt   *time.Time `json:"last_completed_at"`
	LastCompletedUnit string     `json:"last_completed_unit"`
	ProgressPercent   float64    `json:"progress_percent"`
	CompletedToday    bool       `json:"completed_today"`
	NextUnitTitle     string     `json:"next_unit_title"`
}

// NudgeCandidate is an ephemeral, per-tick decision to nudge a subject.
type NudgeCandidate struct {
	SubjectID string `json:"subject_id"`
	RuleID    string `json:"rule_id"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}
