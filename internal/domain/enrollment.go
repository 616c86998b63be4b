package domain

import "time"

// EnrollmentStatus enumerates the lifecycle of one subject in one sequence.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
	EnrollmentPaused    EnrollmentStatus = "paused"
)

// Enrollment is the live state of one subject progressing through one
// sequence.
type Enrollment struct {
	ID          string           `json:"id" db:"id"`
	SubjectID   string           `json:"subject_id" db:"subject_id"`
	SequenceID  string           `json:"sequence_id" db:"sequence_id"`
	Status      EnrollmentStatus `json:"status" db:"status"`
	CurrentStep int              `json:"current_step" db:"current_step"`
	NextSendAt  *time.Time       `json:"next_send_at" db:"next_send_at"`
	EnrolledAt  time.Time        `json:"enrolled_at" db:"enrolled_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	ExitedAt    *time.Time       `json:"exited_at,omitempty" db:"exited_at"`
	ExitReason  string           `json:"exit_reason,omitempty" db:"exit_reason"`
}

// IsLive reports whether the enrollment still occupies its (subject, sequence)
// slot. Paused enrollments are live.
func (e *Enrollment) IsLive() bool {
	return e.Status == EnrollmentActive || e.Status == EnrollmentPaused
}

// IsDue reports whether an active enrollment should be sent at now.
func (e *Enrollment) IsDue(now time.Time) bool {
	return e.Status == EnrollmentActive && e.NextSendAt != nil && !e.NextSendAt.After(now)
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to EnrollmentStatus) bool {
	switch from {
	case EnrollmentActive:
		return to == EnrollmentCompleted || to == EnrollmentExited || to == EnrollmentPaused || to == EnrollmentActive
	case EnrollmentPaused:
		return to == EnrollmentActive || to == EnrollmentExited
	}
	return false
}
