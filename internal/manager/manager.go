// Package manager owns the job lifecycle: submission into a bounded queue,
// a fixed pool of workers, result hand-off, cancellation and reclamation.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/vmunix/grabbr/internal/events"
	"github.com/vmunix/grabbr/internal/job"
	"github.com/vmunix/grabbr/internal/workspace"
)

// Sentinel errors for the manager package.
var (
	ErrMissingURL     = errors.New("URL is required")
	ErrQueueFull      = errors.New("job queue is full")
	ErrNotReady       = errors.New("job is not ready")
	ErrExpired        = errors.New("job has expired")
	ErrNotCancellable = errors.New("job is running and cannot be cancelled")
)

// Internal short-circuits for Update callbacks.
var (
	errAlreadyExpired = errors.New("already expired")
	errNotPending     = errors.New("not pending")
)

// Reclaim reasons recorded in JobReclaimed events.
const (
	ReasonDelivered = "delivered"
	ReasonCancelled = "cancelled"
	ReasonRetention = "retention"
	ReasonRejected  = "rejected" // queue was full at submission
)

// Runner executes one job.
type Runner interface {
	Run(ctx context.Context, id string) error
}

// Config bounds the pool and retention.
type Config struct {
	Workers     int
	QueueSize   int
	MaxDuration time.Duration // per-job limit, 0 for none
	Retention   time.Duration // how long finished jobs stay retrievable
}

// Deps contains the manager's collaborators.
// Bus and EventLog are optional.
type Deps struct {
	Store     *job.Store
	Runner    Runner
	Workspace *workspace.Workspace
	Bus       *events.Bus
	EventLog  *events.EventLog
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Counts        map[job.Status]int `json:"counts"`
	Workers       int                `json:"workers"`
	Busy          int                `json:"busy"`
	QueueDepth    int                `json:"queue_depth"`
	QueueCapacity int                `json:"queue_capacity"`
}

// Result is a completed job with its output opened for reading.
// The caller must close File.
type Result struct {
	Job  *job.Job
	File afero.File
	Info os.FileInfo
}

// SweepResult reports what one sweep removed.
type SweepResult struct {
	Reclaimed    int
	Evicted      int64
	EventsPruned int64
}

// Manager coordinates jobs between the API and the worker pool.
type Manager struct {
	store    *job.Store
	runner   Runner
	ws       *workspace.Workspace
	bus      *events.Bus
	eventLog *events.EventLog
	cfg      Config
	log      *slog.Logger

	queue chan string
	busy  atomic.Int32

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// New creates a Manager and subscribes it to the store's transitions.
func New(deps Deps, cfg Config, log *slog.Logger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		store:    deps.Store,
		runner:   deps.Runner,
		ws:       deps.Workspace,
		bus:      deps.Bus,
		eventLog: deps.EventLog,
		cfg:      cfg,
		log:      log.With("component", "manager"),
		queue:    make(chan string, cfg.QueueSize),
		waiters:  make(map[string][]chan struct{}),
	}
	m.store.OnTransition(m.onTransition)
	return m
}

// onTransition runs under the store lock.
func (m *Manager) onTransition(e job.TransitionEvent) {
	m.publish(&events.JobStatusChanged{
		BaseEvent: events.NewBaseEvent(events.EventJobStatusChanged, events.EntityJob, e.JobID),
		From:      string(e.From),
		To:        string(e.To),
		Snapshot:  Snapshot(e.Job),
	})

	if e.To.IsTerminal() {
		m.mu.Lock()
		for _, ch := range m.waiters[e.JobID] {
			close(ch)
		}
		delete(m.waiters, e.JobID)
		m.mu.Unlock()
	}
}

func (m *Manager) publish(e events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(context.Background(), e); err != nil {
		m.log.Warn("failed to publish event", "type", e.EventType(), "error", err)
	}
}

// Snapshot converts a job into its event representation.
func Snapshot(j *job.Job) events.JobSnapshot {
	return events.JobSnapshot{
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

// Submit creates a pending job and queues it without blocking.
// When the queue is full the job is discarded and ErrQueueFull returned.
func (m *Manager) Submit(ctx context.Context, url, formatID string) (*job.Job, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrMissingURL
	}

	j, err := m.store.Create(url, strings.TrimSpace(formatID))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// Published before the job is queued so it precedes every transition
	m.publish(&events.JobCreated{
		BaseEvent: events.NewBaseEvent(events.EventJobCreated, events.EntityJob, j.ID),
		URL:       j.URL,
		FormatID:  j.FormatID,
	})

	select {
	case m.queue <- j.ID:
	default:
		if err := m.store.Delete(j.ID); err != nil {
			m.log.Warn("failed to discard unqueued job", "job_id", j.ID, "error", err)
		}
		m.publish(&events.JobReclaimed{
			BaseEvent: events.NewBaseEvent(events.EventJobReclaimed, events.EntityJob, j.ID),
			Reason:    ReasonRejected,
		})
		return nil, ErrQueueFull
	}

	m.log.Info("job submitted", "job_id", j.ID, "url", j.URL, "format_id", j.FormatID)
	return j, nil
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*job.Job, error) {
	return m.store.Get(id)
}

// List returns jobs matching the filter.
func (m *Manager) List(f job.Filter) ([]*job.Job, error) {
	return m.store.List(f)
}

// Stats returns job counts and pool occupancy.
func (m *Manager) Stats() (*Stats, error) {
	counts, err := m.store.Counts()
	if err != nil {
		return nil, err
	}
	return &Stats{
		Counts:        counts,
		Workers:       m.cfg.Workers,
		Busy:          int(m.busy.Load()),
		QueueDepth:    len(m.queue),
		QueueCapacity: cap(m.queue),
	}, nil
}

// Result opens the output of a completed job. Jobs still in progress give
// ErrNotReady, failed jobs give their *job.Failure and reclaimed jobs
// give ErrExpired.
func (m *Manager) Result(id string) (*Result, error) {
	j, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	switch j.Status {
	case job.StatusCompleted:
	case job.StatusFailed:
		return nil, j.Failure()
	case job.StatusExpired:
		return nil, ErrExpired
	default:
		return nil, ErrNotReady
	}

	f, info, err := m.ws.Open(j.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("open result of job %s: %w", id, err)
	}
	return &Result{Job: j, File: f, Info: info}, nil
}

// Reclaim expires a job and removes its directory.
// Reclaiming an expired job is a no-op.
func (m *Manager) Reclaim(id, reason string) error {
	return m.reclaim(id, reason, true)
}

// Cancel reclaims a job that is not running. Pending jobs are dropped
// before a worker claims them; running jobs give ErrNotCancellable.
func (m *Manager) Cancel(id string) error {
	return m.reclaim(id, ReasonCancelled, false)
}

func (m *Manager) reclaim(id, reason string, allowActive bool) error {
	var dir string
	_, err := m.store.Update(id, func(j *job.Job) error {
		if j.Status == job.StatusExpired {
			return errAlreadyExpired
		}
		if !allowActive && j.Status.IsActive() {
			return ErrNotCancellable
		}
		dir = j.WorkDir
		j.Status = job.StatusExpired
		return nil
	})
	if errors.Is(err, errAlreadyExpired) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.ws.Remove(dir); err != nil {
		m.log.Warn("failed to remove job dir", "job_id", id, "dir", dir, "error", err)
	}
	m.publish(&events.JobReclaimed{
		BaseEvent: events.NewBaseEvent(events.EventJobReclaimed, events.EntityJob, id),
		Reason:    reason,
		WorkDir:   dir,
	})
	m.log.Info("job reclaimed", "job_id", id, "reason", reason)
	return nil
}

// Wait blocks until the job reaches a terminal status or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (*job.Job, error) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()
	defer m.removeWaiter(id, ch)

	// Checked after registering so a transition in between is not missed
	j, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if j.Status.IsTerminal() {
		return j, nil
	}

	select {
	case <-ch:
		return m.store.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) removeWaiter(id string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chans := m.waiters[id]
	for i, c := range chans {
		if c == ch {
			m.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(m.waiters[id]) == 0 {
		delete(m.waiters, id)
	}
}

// Run starts the worker pool and blocks until ctx is cancelled. Jobs still
// queued at shutdown are failed as interrupted.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("worker pool started", "workers", m.cfg.Workers, "queue_size", cap(m.queue))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-m.queue:
					m.runJob(gctx, id)
				}
			}
		})
	}
	err := g.Wait()

	m.drain()
	m.log.Info("worker pool stopped")
	return err
}

func (m *Manager) runJob(ctx context.Context, id string) {
	m.busy.Add(1)
	defer m.busy.Add(-1)

	if m.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.MaxDuration)
		defer cancel()
	}
	if err := m.runner.Run(ctx, id); err != nil {
		m.log.Error("job run failed", "job_id", id, "error", err)
	}
}

// drain fails every job left in the queue.
func (m *Manager) drain() {
	for {
		select {
		case id := <-m.queue:
			_, err := m.store.Update(id, func(j *job.Job) error {
				if j.Status != job.StatusPending {
					return errNotPending
				}
				j.Status = job.StatusFailed
				j.ErrorKind = job.KindInterrupted
				j.Error = "server shut down before the job started"
				return nil
			})
			if err != nil && !errors.Is(err, errNotPending) && !errors.Is(err, job.ErrNotFound) {
				m.log.Warn("failed to interrupt queued job", "job_id", id, "error", err)
			}
		default:
			return
		}
	}
}

// Sweep evicts jobs reclaimed by an earlier sweep, reclaims finished jobs
// older than the retention period and prunes the event log.
func (m *Manager) Sweep(now time.Time) (*SweepResult, error) {
	res := &SweepResult{}

	// Evict first so fresh tombstones answer 410 until the next sweep
	evicted, err := m.store.PurgeExpired()
	if err != nil {
		return nil, err
	}
	res.Evicted = evicted

	stale, err := m.store.Expired(now.Add(-m.cfg.Retention))
	if err != nil {
		return nil, err
	}
	for _, j := range stale {
		if err := m.Reclaim(j.ID, ReasonRetention); err != nil {
			m.log.Warn("failed to reclaim job", "job_id", j.ID, "error", err)
			continue
		}
		res.Reclaimed++
	}

	if m.eventLog != nil {
		// Events outlive the jobs they describe
		pruned, err := m.eventLog.Prune(now.Add(-m.cfg.Retention - m.cfg.MaxDuration))
		if err != nil {
			return nil, err
		}
		res.EventsPruned = pruned
	}

	if res.Reclaimed > 0 || res.Evicted > 0 {
		m.log.Info("sweep finished", "reclaimed", res.Reclaimed, "evicted", res.Evicted, "events_pruned", res.EventsPruned)
	}
	return res, nil
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := m.Sweep(now); err != nil {
				m.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// Recover fails jobs interrupted by a previous process and removes job
// directories that no completed job owns.
func (m *Manager) Recover() error {
	recovered, err := m.store.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	for _, j := range recovered {
		if err := m.ws.Remove(j.WorkDir); err != nil {
			m.log.Warn("failed to remove job dir", "job_id", j.ID, "dir", j.WorkDir, "error", err)
		}
	}
	if len(recovered) > 0 {
		m.log.Warn("failed interrupted jobs", "count", len(recovered))
	}

	completed := job.StatusCompleted
	live, err := m.store.List(job.Filter{Status: &completed})
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(live))
	for _, j := range live {
		keep[j.WorkDir] = true
	}
	if _, err := m.ws.SweepOrphans(keep); err != nil {
		return fmt.Errorf("sweep orphaned job dirs: %w", err)
	}
	return nil
}
