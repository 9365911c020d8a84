// Package worker runs a single download job against the extraction tool.
package worker

//go:generate mockgen -source=worker.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/vmunix/grabbr/internal/extract"
	"github.com/vmunix/grabbr/internal/job"
)

// Extractor probes and downloads media.
type Extractor interface {
	Probe(ctx context.Context, url string) (*extract.VideoMetadata, error)
	Download(ctx context.Context, url, selector, dir string) (string, error)
}

// Workspace allocates and removes job directories.
type Workspace interface {
	Create(jobID string) (string, error)
	Remove(dir string) error
}

// errSkip aborts the claim of a job that is no longer pending.
var errSkip = errors.New("job no longer pending")

// Worker drives one job through probing and downloading.
type Worker struct {
	store     *job.Store
	extractor Extractor
	workspace Workspace
	log       *slog.Logger
}

// New creates a Worker.
func New(store *job.Store, extractor Extractor, ws Workspace, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		workspace: ws,
		log:       log.With("component", "worker"),
	}
}

// Run executes the job with the given id. A job that is no longer pending
// (cancelled or reclaimed while queued) is skipped. The job directory is
// removed on every path that does not end in a completed job.
//
// The returned error reports store failures only; job outcomes are
// recorded on the job itself.
func (w *Worker) Run(ctx context.Context, id string) (err error) {
	log := w.log.With("job_id", id)

	j, err := w.store.Update(id, func(j *job.Job) error {
		if j.Status != job.StatusPending {
			return errSkip
		}
		j.Status = job.StatusProbing
		return nil
	})
	if errors.Is(err, errSkip) || errors.Is(err, job.ErrNotFound) {
		log.Debug("skipping job", "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", id, err)
	}

	var dir string
	completed := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic", "panic", r)
			w.fail(log, id, job.KindDownload, fmt.Sprintf("internal error: %v", r))
			err = nil
		}
		if !completed && dir != "" {
			if rmErr := w.workspace.Remove(dir); rmErr != nil {
				log.Warn("failed to remove job dir", "dir", dir, "error", rmErr)
			}
		}
	}()

	title := ""
	if j.FormatID != "" {
		meta, err := w.extractor.Probe(ctx, j.URL)
		if err != nil {
			w.fail(log, id, kindFor(err, job.KindExtraction), err.Error())
			return nil
		}
		title = meta.Title
		if !meta.Offers(j.FormatID) {
			w.fail(log, id, job.KindDownload, extract.UnavailableMessage(j.FormatID, meta.Formats))
			return nil
		}
	}

	dir, err = w.workspace.Create(id)
	if err != nil {
		dir = ""
		w.fail(log, id, job.KindDownload, err.Error())
		return nil
	}

	if _, err := w.store.Transition(id, job.StatusDownloading, func(j *job.Job) {
		j.Title = title
		j.WorkDir = dir
	}); err != nil {
		return w.abandon(log, id, "start download", err)
	}

	log.Info("downloading", "url", j.URL, "format_id", j.FormatID)
	path, err := w.extractor.Download(ctx, j.URL, extract.Selector(j.FormatID), dir)
	if err != nil {
		w.fail(log, id, kindFor(err, job.KindDownload), err.Error())
		return nil
	}

	if _, err := w.store.Transition(id, job.StatusCompleted, func(j *job.Job) {
		j.ResultPath = path
		j.Filename = filepath.Base(path)
	}); err != nil {
		return w.abandon(log, id, "complete", err)
	}

	completed = true
	log.Info("job completed", "file", filepath.Base(path))
	return nil
}

func (w *Worker) fail(log *slog.Logger, id string, kind job.ErrorKind, msg string) {
	log.Warn("job failed", "kind", kind, "error", msg)
	if _, err := w.store.Fail(id, kind, msg); err != nil {
		// Reclaimed while running; the reclaim owns the outcome.
		log.Debug("could not record failure", "error", err)
	}
}

// abandon handles a failed transition out of an active status. A job that
// was reclaimed or deleted meanwhile is left alone; any other error is a
// store failure, recorded on the job when possible and returned.
func (w *Worker) abandon(log *slog.Logger, id, step string, err error) error {
	if errors.Is(err, job.ErrInvalidTransition) || errors.Is(err, job.ErrNotFound) {
		log.Info("job changed before "+step, "error", err)
		return nil
	}
	w.fail(log, id, job.KindDownload, fmt.Sprintf("%s: %v", step, err))
	return fmt.Errorf("%s job %s: %w", step, id, err)
}

// kindFor classifies a tool error, letting context errors override fallback.
func kindFor(err error, fallback job.ErrorKind) job.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return job.KindTimeout
	case errors.Is(err, context.Canceled):
		return job.KindInterrupted
	}
	return fallback
}
