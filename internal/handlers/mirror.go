package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vmunix/grabbr/internal/events"
)

// DefaultMirrorPrefix is prepended to job ids to form snapshot keys.
const DefaultMirrorPrefix = "grabbr:job:"

// SnapshotStore holds serialized job snapshots by key.
type SnapshotStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key does not exist yet.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisSnapshots is a SnapshotStore backed by Redis.
type RedisSnapshots struct {
	cl *redis.Client
}

// NewRedisSnapshots creates a SnapshotStore on an existing client.
func NewRedisSnapshots(cl *redis.Client) *RedisSnapshots {
	return &RedisSnapshots{cl: cl}
}

func (r *RedisSnapshots) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.cl.Set(ctx, key, value, ttl).Err()
}

func (r *RedisSnapshots) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.cl.SetNX(ctx, key, value, ttl).Err()
}

func (r *RedisSnapshots) Del(ctx context.Context, key string) error {
	return r.cl.Del(ctx, key).Err()
}

// MirrorHandler copies job snapshots into a SnapshotStore so other
// processes can read job state without the API.
type MirrorHandler struct {
	*BaseHandler
	store  SnapshotStore
	prefix string
	ttl    time.Duration
}

// NewMirrorHandler creates a mirror handler. Snapshots expire after ttl.
func NewMirrorHandler(bus *events.Bus, store SnapshotStore, prefix string, ttl time.Duration, logger *slog.Logger) *MirrorHandler {
	if prefix == "" {
		prefix = DefaultMirrorPrefix
	}
	return &MirrorHandler{
		BaseHandler: NewBaseHandler(bus, logger),
		store:       store,
		prefix:      prefix,
		ttl:         ttl,
	}
}

// Name returns the handler name.
func (h *MirrorHandler) Name() string {
	return "mirror"
}

// Key returns the snapshot key of a job.
func (h *MirrorHandler) Key(jobID string) string {
	return h.prefix + jobID
}

// Start mirrors every job event until ctx is done or the bus closes.
func (h *MirrorHandler) Start(ctx context.Context) error {
	all := h.Bus().SubscribeAll(100)
	defer h.Bus().Unsubscribe(all)

	return h.Consume(ctx, all, h.handle)
}

func (h *MirrorHandler) handle(ctx context.Context, e events.Event) error {
	switch e := e.(type) {
	case *events.JobCreated:
		// A worker may already have published a newer status
		return h.write(ctx, e.EntityID(), events.JobSnapshot{
			JobID:     e.EntityID(),
			URL:       e.URL,
			FormatID:  e.FormatID,
			Status:    "pending",
			CreatedAt: e.OccurredAt(),
		}, h.store.SetNX)
	case *events.JobStatusChanged:
		if e.To == "expired" {
			return h.store.Del(ctx, h.Key(e.EntityID()))
		}
		return h.write(ctx, e.EntityID(), e.Snapshot, h.store.Set)
	case *events.JobReclaimed:
		return h.store.Del(ctx, h.Key(e.EntityID()))
	}
	return nil
}

func (h *MirrorHandler) write(ctx context.Context, id string, snap events.JobSnapshot,
	set func(context.Context, string, []byte, time.Duration) error) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return set(ctx, h.Key(id), data, h.ttl)
}
