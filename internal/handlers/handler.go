// Package handlers holds background consumers of the event bus.
package handlers

import (
	"context"
	"log/slog"

	"github.com/vmunix/grabbr/internal/events"
)

// Handler is a long-running bus consumer started alongside the HTTP server.
type Handler interface {
	// Start consumes events until ctx is done or the bus closes.
	Start(ctx context.Context) error

	// Name identifies the handler in logs.
	Name() string
}

// BaseHandler carries the bus and logger shared by handlers.
type BaseHandler struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewBaseHandler creates a base handler.
func NewBaseHandler(bus *events.Bus, logger *slog.Logger) *BaseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseHandler{
		bus:    bus,
		logger: logger,
	}
}

// Bus returns the event bus.
func (h *BaseHandler) Bus() *events.Bus {
	return h.bus
}

// Logger returns the handler's logger.
func (h *BaseHandler) Logger() *slog.Logger {
	return h.logger
}

// Consume feeds events from ch to fn until ch closes or ctx is done.
// Errors from fn are logged and do not stop consumption. A closed
// channel means the bus shut down and yields nil.
func (h *BaseHandler) Consume(ctx context.Context, ch <-chan events.Event, fn func(context.Context, events.Event) error) error {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := fn(ctx, e); err != nil {
				h.logger.Warn("event handling failed",
					"event", e.EventType(), "job_id", e.EntityID(), "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
