package job

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransitionEvent describes a committed status change.
type TransitionEvent struct {
	JobID string
	From  Status
	To    Status
	At    time.Time
	Job   *Job // snapshot after the change
}

// TransitionHandler is called after a status change commits.
// Handlers run with the store lock held, in registration order, and must
// not call back into the store.
type TransitionHandler func(TransitionEvent)

// Store persists jobs. Every operation is serialized by a single mutex so
// readers never observe a status without its matching result fields.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	handlers []TransitionHandler
	now      func() time.Time
}

// NewStore creates a job store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// OnTransition registers a handler to be called on state transitions.
func (s *Store) OnTransition(h TransitionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

const jobColumns = `id, url, format_id, status, title, filename, result_path, work_dir,
	error_kind, error, created_at, started_at, finished_at, last_transition_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	err := row.Scan(&j.ID, &j.URL, &j.FormatID, &j.Status, &j.Title, &j.Filename, &j.ResultPath, &j.WorkDir,
		&j.ErrorKind, &j.Error, &j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.LastTransitionAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getJob(q querier, id string) (*Job, error) {
	j, err := scanJob(q.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// Create records a new pending job for url.
func (s *Store) Create(url, formatID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	j := &Job{
		ID:               uuid.NewString(),
		URL:              url,
		FormatID:         formatID,
		Status:           StatusPending,
		CreatedAt:        now,
		LastTransitionAt: now,
	}

	_, err := s.db.Exec(`
		INSERT INTO jobs (id, url, format_id, status, created_at, last_transition_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, j.URL, j.FormatID, j.Status, j.CreatedAt, j.LastTransitionAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// Get retrieves a copy of the job.
// Returns ErrNotFound if the job does not exist.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getJob(s.db, id)
}

// Update applies mutate to the current job as one read-modify-write.
// A status change made by mutate is validated and stamped; if mutate
// returns an error nothing is written and that error is returned.
func (s *Store) Update(id string, mutate func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	j, err := getJob(tx, id)
	if err != nil {
		return nil, err
	}
	from := j.Status

	if err := mutate(j); err != nil {
		return nil, err
	}
	j.ID = id

	var event *TransitionEvent
	if j.Status != from {
		if !from.CanTransitionTo(j.Status) {
			return nil, fmt.Errorf("transition job %s: %w: %s -> %s", id, ErrInvalidTransition, from, j.Status)
		}
		now := s.now()
		s.stamp(j, now)
		event = &TransitionEvent{JobID: id, From: from, To: j.Status, At: now}
	}

	_, err = tx.Exec(`
		UPDATE jobs SET status = ?, title = ?, filename = ?, result_path = ?, work_dir = ?,
			error_kind = ?, error = ?, started_at = ?, finished_at = ?, last_transition_at = ?
		WHERE id = ?`,
		j.Status, j.Title, j.Filename, j.ResultPath, j.WorkDir,
		j.ErrorKind, j.Error, j.StartedAt, j.FinishedAt, j.LastTransitionAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job %s: %w", id, err)
	}

	if event != nil {
		event.Job = j.clone()
		for _, h := range s.handlers {
			h(*event)
		}
	}
	return j.clone(), nil
}

// stamp fills the bookkeeping fields implied by the new status.
func (s *Store) stamp(j *Job, now time.Time) {
	j.LastTransitionAt = now
	switch j.Status {
	case StatusProbing:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StatusCompleted, StatusFailed:
		if j.FinishedAt == nil {
			j.FinishedAt = &now
		}
	case StatusExpired:
		if j.FinishedAt == nil {
			j.FinishedAt = &now
		}
		j.ResultPath = ""
		j.WorkDir = ""
	}
	if j.Status != StatusFailed {
		j.ErrorKind = ""
		j.Error = ""
	}
}

// Transition moves the job to status to, applying the optional mutate first.
func (s *Store) Transition(id string, to Status, mutate func(*Job)) (*Job, error) {
	return s.Update(id, func(j *Job) error {
		if mutate != nil {
			mutate(j)
		}
		j.Status = to
		return nil
	})
}

// Fail moves the job to failed with the given kind and message.
func (s *Store) Fail(id string, kind ErrorKind, msg string) (*Job, error) {
	return s.Transition(id, StatusFailed, func(j *Job) {
		j.ErrorKind = kind
		j.Error = msg
	})
}

// Delete removes a job by ID.
// This operation is idempotent - no error is returned if the job does not exist.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// List returns jobs matching the filter, oldest first.
func (s *Store) List(f Filter) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conditions []string
	var args []any
	if f.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *f.Status)
	}
	return s.query(conditions, args, f.Limit)
}

// Expired returns completed or failed jobs that finished before cutoff.
func (s *Store) Expired(cutoff time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.query(
		[]string{"status IN (?, ?)", "finished_at < ?"},
		[]any{StatusCompleted, StatusFailed, cutoff.UTC()},
		0,
	)
}

// PurgeExpired deletes every expired job and returns how many were removed.
func (s *Store) PurgeExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM jobs WHERE status = ?", StatusExpired)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return result.RowsAffected()
}

// Counts returns the number of jobs in each status.
// Every status is present in the result.
func (s *Store) Counts() (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// RecoverInterrupted fails every job left pending, probing or downloading
// by a previous process and returns the recovered jobs as they were.
func (s *Store) RecoverInterrupted() ([]*Job, error) {
	s.mu.Lock()
	stale, err := s.query(
		[]string{"status IN (?, ?, ?)"},
		[]any{StatusPending, StatusProbing, StatusDownloading},
		0,
	)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, j := range stale {
		if _, err := s.Fail(j.ID, KindInterrupted, "interrupted by server restart"); err != nil {
			return nil, fmt.Errorf("recover job %s: %w", j.ID, err)
		}
	}
	return stale, nil
}

// query must be called with s.mu held.
func (s *Store) query(conditions []string, args []any, limit int) ([]*Job, error) {
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := "SELECT " + jobColumns + " FROM jobs " + whereClause + " ORDER BY created_at, rowid"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		results = append(results, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return results, nil
}
