package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/vmunix/grabbr/internal/api"
	"github.com/vmunix/grabbr/internal/config"
	"github.com/vmunix/grabbr/internal/events"
	"github.com/vmunix/grabbr/internal/extract"
	"github.com/vmunix/grabbr/internal/handlers"
	"github.com/vmunix/grabbr/internal/job"
	"github.com/vmunix/grabbr/internal/manager"
	"github.com/vmunix/grabbr/internal/migrations"
	"github.com/vmunix/grabbr/internal/server"
	"github.com/vmunix/grabbr/internal/worker"
	"github.com/vmunix/grabbr/internal/workspace"
)

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openDB opens the SQLite database at path and applies the schema.
func openDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// The job store serializes access; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// redisMirror connects to Redis and returns the mirror handler, or nil when
// Redis is not configured or unreachable.
func redisMirror(ctx context.Context, cfg *config.RedisConfig, bus *events.Bus, logger *slog.Logger) (*handlers.MirrorHandler, func()) {
	if cfg == nil {
		return nil, func() {}
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger.Warn("invalid redis url, mirror disabled", "error", err)
		return nil, func() {}
	}
	cl := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cl.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available, mirror disabled", "addr", opt.Addr, "error", err)
		_ = cl.Close()
		return nil, func() {}
	}

	logger.Info("redis connected", "addr", opt.Addr, "prefix", cfg.Prefix, "ttl", cfg.TTL.Duration)
	mirror := handlers.NewMirrorHandler(bus, handlers.NewRedisSnapshots(cl), cfg.Prefix, cfg.TTL.Duration,
		logger.With("component", "mirror"))
	return mirror, func() { _ = cl.Close() }
}

func runServer(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Create logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// === Stores and events ===
	store := job.NewStore(db)
	eventLog := events.NewEventLog(db)
	bus := events.NewBus(eventLog, logger)
	defer func() { _ = bus.Close() }()

	// === Tooling ===
	tool := extract.New(extract.Options{
		Path:         cfg.Tool.Path,
		ExtraArgs:    cfg.Tool.ExtraArgs,
		ProbeTimeout: cfg.Tool.ProbeTimeout.Duration,
	}, logger)

	ws := workspace.New(cfg.Workspace.Root, logger)
	if err := ws.Init(); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	// === Services ===
	mgr := manager.New(manager.Deps{
		Store:     store,
		Runner:    worker.New(store, tool, ws, logger),
		Workspace: ws,
		Bus:       bus,
		EventLog:  eventLog,
	}, manager.Config{
		Workers:     cfg.Jobs.Workers,
		QueueSize:   cfg.Jobs.QueueSize,
		MaxDuration: cfg.Jobs.MaxDuration.Duration,
		Retention:   cfg.Jobs.Retention.Duration,
	}, logger)

	if err := mgr.Recover(); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	apiSrv, err := api.New(api.ServerDeps{
		Prober:   tool,
		Jobs:     mgr,
		EventLog: eventLog,
	}, api.Config{
		CompatBlocking:    cfg.Server.CompatBlocking,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, logger)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// === Event handlers (optional) ===
	var hs []handlers.Handler
	mirror, closeRedis := redisMirror(ctx, cfg.Redis, bus, logger)
	defer closeRedis()
	if mirror != nil {
		hs = append(hs, mirror)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("server starting",
		"version", version,
		"addr", addr,
		"database", cfg.Database.Path,
		"tool", cfg.Tool.Path,
		"workspace", cfg.Workspace.Root,
		"workers", cfg.Jobs.Workers,
		"compat_blocking", cfg.Server.CompatBlocking,
		"redis", mirror != nil,
		"log_level", cfg.Server.LogLevel,
	)

	runner := server.NewRunner(server.Config{
		Addr:          addr,
		SweepInterval: cfg.Jobs.SweepInterval.Duration,
	}, apiSrv.Handler(), mgr, hs, logger)

	if err := runner.Run(ctx); err != nil {
		return err
	}
	return nil
}
