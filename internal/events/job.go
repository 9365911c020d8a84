// internal/events/job.go
package events

import "time"

// Entity types
const (
	EntityJob = "job"
)

// Event type constants
const (
	EventJobCreated       = "job.created"
	EventJobStatusChanged = "job.status.changed"
	EventJobReclaimed     = "job.reclaimed"
)

// JobSnapshot is the externally visible state of a job.
type JobSnapshot struct {
	JobID      string     `json:"job_id"`
	URL        string     `json:"url"`
	FormatID   string     `json:"format_id,omitempty"`
	Status     string     `json:"status"`
	Title      string     `json:"title,omitempty"`
	Filename   string     `json:"filename,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobCreated is emitted when a job is accepted and queued.
type JobCreated struct {
	BaseEvent
	URL      string `json:"url"`
	FormatID string `json:"format_id,omitempty"`
}

// JobStatusChanged is emitted after every committed status transition.
type JobStatusChanged struct {
	BaseEvent
	From     string      `json:"from"`
	To       string      `json:"to"`
	Snapshot JobSnapshot `json:"snapshot"`
}

// JobReclaimed is emitted when a job's temporary files are removed.
type JobReclaimed struct {
	BaseEvent
	Reason  string `json:"reason"` // "delivered", "cancelled", "retention", "rejected"
	WorkDir string `json:"work_dir,omitempty"`
}
