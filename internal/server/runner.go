// Package server runs the HTTP API, the worker pool and event handlers
// under one lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vmunix/grabbr/internal/handlers"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Config for the server runner.
type Config struct {
	Addr            string
	SweepInterval   time.Duration // zero disables the sweeper
	ShutdownTimeout time.Duration
}

// Pool is the background job machinery driven by the runner.
type Pool interface {
	Run(ctx context.Context) error
	RunSweeper(ctx context.Context, interval time.Duration) error
}

// Runner manages the server components.
type Runner struct {
	config   Config
	handler  http.Handler
	pool     Pool
	handlers []handlers.Handler
	logger   *slog.Logger
}

// NewRunner creates a new runner.
func NewRunner(cfg Config, handler http.Handler, pool Pool, hs []handlers.Handler, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Runner{
		config:   cfg,
		handler:  handler,
		pool:     pool,
		handlers: hs,
		logger:   logger.With("component", "runner"),
	}
}

// Run listens on the configured address and starts all components.
// It blocks until the context is canceled or an error occurs.
func (r *Runner) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.config.Addr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve starts all components with the HTTP server on ln.
func (r *Runner) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Use errgroup to manage component lifecycle
	g, gctx := errgroup.WithContext(ctx)

	// Background work stops only after the HTTP server has shut down
	ctx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	g.Go(func() error {
		r.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		defer stopWork()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("graceful shutdown timed out, closing connections", "error", err)
			return srv.Close()
		}
		r.logger.Info("http server stopped, stopping workers")
		return nil
	})

	g.Go(func() error {
		return r.pool.Run(ctx)
	})

	if r.config.SweepInterval > 0 {
		g.Go(func() error {
			return r.pool.RunSweeper(ctx, r.config.SweepInterval)
		})
	}

	for _, h := range r.handlers {
		g.Go(func() error {
			r.logger.Info("starting handler", "name", h.Name())
			if err := h.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("handler %s: %w", h.Name(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	r.logger.Info("server stopped")
	return err
}
