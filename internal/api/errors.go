package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/vmunix/grabbr/internal/extract"
	"github.com/vmunix/grabbr/internal/job"
	"github.com/vmunix/grabbr/internal/manager"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeMissingParameter = "MISSING_PARAMETER"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeNotFound         = "NOT_FOUND"
	CodeExtraction       = "EXTRACTION_ERROR"
	CodeDownload         = "DOWNLOAD_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeInterrupted      = "INTERRUPTED"
	CodeNotReady         = "NOT_READY"
	CodeExpired          = "EXPIRED"
	CodeQueueFull        = "QUEUE_FULL"
	CodeNotCancellable   = "NOT_CANCELLABLE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
)

// errorStatus maps an error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	var failure *job.Failure
	if errors.As(err, &failure) {
		return failureStatus(failure.Kind)
	}

	switch {
	case errors.Is(err, manager.ErrMissingURL):
		return http.StatusBadRequest, CodeMissingParameter
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, manager.ErrNotReady):
		return http.StatusConflict, CodeNotReady
	case errors.Is(err, manager.ErrNotCancellable):
		return http.StatusConflict, CodeNotCancellable
	case errors.Is(err, manager.ErrExpired):
		return http.StatusGone, CodeExpired
	case errors.Is(err, manager.ErrQueueFull):
		return http.StatusServiceUnavailable, CodeQueueFull
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, extract.ErrExtraction):
		return http.StatusInternalServerError, CodeExtraction
	case errors.Is(err, extract.ErrDownload):
		return http.StatusInternalServerError, CodeDownload
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func failureStatus(kind job.ErrorKind) (int, string) {
	switch kind {
	case job.KindExtraction:
		return http.StatusInternalServerError, CodeExtraction
	case job.KindTimeout:
		return http.StatusGatewayTimeout, CodeTimeout
	case job.KindInterrupted:
		return http.StatusInternalServerError, CodeInterrupted
	default:
		return http.StatusInternalServerError, CodeDownload
	}
}

// errorMessage returns the client facing message for err. Tool and job
// failures carry their raw message; not-found errors are shortened.
func errorMessage(err error) string {
	var failure *job.Failure
	if errors.As(err, &failure) {
		return failure.Error()
	}
	var toolErr *extract.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Error()
	}
	if errors.Is(err, job.ErrNotFound) {
		return "Job not found"
	}
	return err.Error()
}
