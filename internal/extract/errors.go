package extract

import (
	"errors"
	"fmt"
)

// Sentinel errors for the extract package.
var (
	// ErrExtraction is matched by failures while probing a URL.
	ErrExtraction = errors.New("extraction failed")

	// ErrDownload is matched by failures while downloading or transcoding.
	ErrDownload = errors.New("download failed")

	// ErrFormatUnavailable is returned when a requested format id is not offered.
	ErrFormatUnavailable = errors.New("requested format not available")
)

// ToolError carries the tool's own message for a failed invocation.
// It matches ErrExtraction or ErrDownload via errors.Is, and unwraps to
// the underlying cause (exit error, JSON error or context error).
type ToolError struct {
	Kind    error
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *ToolError) Is(target error) bool {
	return target == e.Kind
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
