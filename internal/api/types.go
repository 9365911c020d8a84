package api

import (
	"time"

	"github.com/vmunix/grabbr/internal/job"
)

// infoRequest is the body of POST /api/info.
type infoRequest struct {
	URL  string `json:"url"`
	Sort string `json:"sort,omitempty"` // "" keeps the tool's order, "quality" ranks
}

// downloadRequest is the body of POST /api/download.
type downloadRequest struct {
	URL      string `json:"url"`
	FormatID string `json:"format_id,omitempty"`
}

// submitResponse is returned when a job is accepted.
type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// jobResponse is the API representation of a job.
type jobResponse struct {
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

func jobToResponse(j *job.Job) jobResponse {
	return jobResponse{
		JobID:      j.ID,
		URL:        j.URL,
		FormatID:   j.FormatID,
		Status:     string(j.Status),
		Title:      j.Title,
		Filename:   j.Filename,
		ErrorKind:  string(j.ErrorKind),
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

// listJobsResponse is the response for GET /api/jobs.
type listJobsResponse struct {
	Items []jobResponse `json:"items"`
	Total int           `json:"total"`
}

// statusResponse is the response for GET /api/status.
type statusResponse struct {
	Status        string         `json:"status"`
	Counts        map[string]int `json:"counts"`
	Workers       int            `json:"workers"`
	Busy          int            `json:"busy"`
	QueueDepth    int            `json:"queue_depth"`
	QueueCapacity int            `json:"queue_capacity"`
}

// EventResponse is one entry of a job's audit trail.
type EventResponse struct {
	ID         int64  `json:"id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// listEventsResponse is the response for GET /api/job/{id}/events.
type listEventsResponse struct {
	Items []EventResponse `json:"items"`
	Total int             `json:"total"`
}
