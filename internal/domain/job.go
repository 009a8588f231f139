package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Active reports whether a job in state s still occupies its user's slot.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Artifact references a generated image. The bytes themselves live in the
// artifact store under StorageKey.
type Artifact struct {
	StorageKey string `json:"storage_key,omitempty"`
	URL        string `json:"url,omitempty"`
	MIME       string `json:"mime"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Size       int64  `json:"size"`
}

// Job encapsulates the lifecycle of a single prompt-to-image request.
type Job struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Prompt       string      `json:"prompt"`
	Status       JobStatus   `json:"status"`
	Result       *Artifact   `json:"result,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    time.Time   `json:"started_at,omitempty"`
	FinishedAt   time.Time   `json:"finished_at,omitempty"`
}

// Duration returns how long the job took from admission to its terminal
// state, or zero while it is still active.
func (j Job) Duration() time.Duration {
	if j.FinishedAt.IsZero() || j.CreatedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.CreatedAt)
}

// Clone returns a deep copy so callers cannot alias store-owned state.
func (j Job) Clone() Job {
	if j.Result != nil {
		res := *j.Result
		j.Result = &res
	}
	return j
}
