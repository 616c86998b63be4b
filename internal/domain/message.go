package domain

// Message is a send instruction handed to the send capability.
// IdempotencyKey must be stable across retries of the same logical send.
type Message struct {
	SubjectID      string            `json:"subject_id"`
	To             string            `json:"to,omitempty"`
	Channel        string            `json:"channel"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
