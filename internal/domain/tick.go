package domain

import "time"

// Tick kinds.
const (
	TickDispatch = "dispatch"
	TickNudge    = "nudge"
)

// TickSummary is the per-tick observability record for either driver.
type TickSummary struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Attempted       int       `json:"attempted"`
	Sent            int       `json:"sent"`
	Failed          int       `json:"failed"`
	Skipped         int       `json:"skipped"`
	SkippedCooldown int       `json:"skipped_cooldown"`
	Deferred        int       `json:"deferred"`
}
