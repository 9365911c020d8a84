// Package workspace manages the job-scoped temporary directories that
// downloads are written into.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// dirPrefix marks directories owned by a job.
const dirPrefix = "job-"

// ErrOutsideRoot is returned for paths that would escape the workspace root.
var ErrOutsideRoot = errors.New("path outside workspace root")

// Workspace hands out and reclaims per-job directories under a root.
type Workspace struct {
	fs   afero.Fs
	root string
	log  *slog.Logger
}

// New creates a workspace on the OS filesystem.
func New(root string, log *slog.Logger) *Workspace {
	return NewWithFS(afero.NewOsFs(), root, log)
}

// NewWithFS creates a workspace on the given filesystem.
func NewWithFS(fs afero.Fs, root string, log *slog.Logger) *Workspace {
	if log == nil {
		log = slog.Default()
	}
	return &Workspace{
		fs:   fs,
		root: filepath.Clean(root),
		log:  log.With("component", "workspace"),
	}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Init creates the root directory if needed.
func (w *Workspace) Init() error {
	if err := w.fs.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	return nil
}

// Dir returns the directory a job would own. It is not created.
func (w *Workspace) Dir(jobID string) string {
	return filepath.Join(w.root, dirPrefix+jobID)
}

// Create allocates the directory for a job.
func (w *Workspace) Create(jobID string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "..") {
		return "", fmt.Errorf("create job dir %q: invalid job id", jobID)
	}
	dir := w.Dir(jobID)
	if err := w.fs.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

// Remove deletes a job directory and everything in it.
// This operation is idempotent - removing a missing or empty path is not an error.
func (w *Workspace) Remove(dir string) error {
	if dir == "" {
		return nil
	}
	if err := w.validate(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	if err := w.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	w.log.Debug("removed job dir", "dir", dir)
	return nil
}

// Open opens a result file for reading along with its size information.
func (w *Workspace) Open(path string) (afero.File, os.FileInfo, error) {
	if err := w.validate(path); err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	f, err := w.fs.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("open %s: is a directory", path)
	}
	return f, info, nil
}

// SweepOrphans removes job directories that belong to none of the given
// live directories and returns how many were removed.
func (w *Workspace) SweepOrphans(live map[string]bool) (int, error) {
	entries, err := afero.ReadDir(w.fs, w.root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		if live[dir] {
			continue
		}
		if err := w.fs.RemoveAll(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		w.log.Info("swept orphaned job dirs", "count", removed)
	}
	return removed, errors.Join(errs...)
}

// validate ensures path is strictly inside the root.
func (w *Workspace) validate(path string) error {
	clean := filepath.Clean(path)
	root := w.root
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	if !strings.HasPrefix(clean, root) {
		return ErrOutsideRoot
	}
	return nil
}
