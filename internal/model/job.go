package model

import "time"

// Job status constants.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no entry.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final job status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job is a batch transcription request tracked from admission to a terminal state.
type Job struct {
	ID     string `json:"job_id"`
	Status string `json:"status"`

	// InputRef points at the prepared audio. It is never exposed over the API.
	InputRef string `json:"-"`

	Result      string     `json:"transcription,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
