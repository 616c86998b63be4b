package domain

import "time"

// SubjectCategory is the coarse lifecycle bucket of a contact.
type SubjectCategory string

const (
	SubjectLead        SubjectCategory = "lead"
	SubjectParticipant SubjectCategory = "participant"
)

// Subject is a contact tracked by the engine. Identity fields are owned by the
// surrounding application; the engine only writes Score, Tier and
// AssignedResource.
type Subject struct {
	ID             string          `json:"id" db:"id"`
	Category       SubjectCategory `json:"category" db:"category"`
	Email          string          `json:"email" db:"email"`
	FirstName      string          `json:"first_name" db:"first_name"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	LastActivityAt *time.Time      `json:"last_activity_at" db:"last_activity_at"`

	Score            *int   `json:"score" db:"score"`
	Tier             Tier   `json:"tier" db:"tier"`
	AssignedResource string `json:"assigned_resource" db:"assigned_resource"`
}

// Resource is something a subject can be routed to, e.g. a mentor.
type Resource struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Niche     string    `json:"niche" db:"niche"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EngagementKind is a signal reported by the messaging collaborator.
type EngagementKind string

const (
	EngagementReply EngagementKind = "reply"
	EngagementClick EngagementKind = "click"
)

// Valid reports whether k is a known engagement kind.
func (k EngagementKind) Valid() bool {
	return k == EngagementReply || k == EngagementClick
}
