package api

//go:generate mockgen -source=deps.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"

	"github.com/vmunix/grabbr/internal/events"
	"github.com/vmunix/grabbr/internal/extract"
	"github.com/vmunix/grabbr/internal/job"
	"github.com/vmunix/grabbr/internal/manager"
)

// ErrMissingDependency is returned when a required dependency is nil.
var ErrMissingDependency = errors.New("missing required dependency")

// Prober fetches metadata for a URL.
type Prober interface {
	Probe(ctx context.Context, url string) (*extract.VideoMetadata, error)
}

// JobService manages download jobs.
type JobService interface {
	Submit(ctx context.Context, url, formatID string) (*job.Job, error)
	Get(id string) (*job.Job, error)
	List(f job.Filter) ([]*job.Job, error)
	Stats() (*manager.Stats, error)
	Result(id string) (*manager.Result, error)
	Reclaim(id, reason string) error
	Cancel(id string) error
	Wait(ctx context.Context, id string) (*job.Job, error)
}

// ServerDeps contains all dependencies for the API server.
// Required dependencies must be non-nil; optional dependencies may be nil.
type ServerDeps struct {
	// Required dependencies
	Prober Prober
	Jobs   JobService

	// Optional dependencies (nil if not configured)
	EventLog *events.EventLog
}

// Validate checks that all required dependencies are provided.
func (d ServerDeps) Validate() error {
	if d.Prober == nil {
		return errors.New("prober is required")
	}
	if d.Jobs == nil {
		return errors.New("job service is required")
	}
	return nil
}
