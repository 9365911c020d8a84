package job

import "errors"

// Sentinel errors for the job package.
var (
	// ErrNotFound is returned when a job record does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Failure is the stored outcome of a failed job.
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Kind) + " error"
	}
	return f.Message
}
