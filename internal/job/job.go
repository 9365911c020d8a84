// Package job defines download jobs and their persistent, linearizable store.
package job

import (
	"time"
)

// Status tracks job state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProbing     Status = "probing"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusExpired     Status = "expired"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProbing,
	StatusDownloading,
	StatusCompleted,
	StatusFailed,
	StatusExpired,
}

// ParseStatus returns the status named s.
func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	KindExtraction  ErrorKind = "extraction"
	KindDownload    ErrorKind = "download"
	KindTimeout     ErrorKind = "timeout"
	KindInterrupted ErrorKind = "interrupted"
)

// Job is one download request and its outcome.
type Job struct {
	ID       string
	URL      string
	FormatID string // empty means best available
	Status   Status
	Title    string

	// Filename is the basename of the produced file.
	Filename string
	// ResultPath is owned by the job until it is reclaimed.
	ResultPath string
	WorkDir    string

	// Set only while Status is failed.
	ErrorKind ErrorKind
	Error     string

	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	LastTransitionAt time.Time
}

// Failure returns the stored failure, or nil unless the job failed.
func (j *Job) Failure() *Failure {
	if j.Status != StatusFailed {
		return nil
	}
	return &Failure{Kind: j.ErrorKind, Message: j.Error}
}

func (j *Job) clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Filter specifies criteria for listing jobs.
type Filter struct {
	Status *Status
	Limit  int // 0 means no limit
}
