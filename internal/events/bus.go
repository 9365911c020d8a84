package events

import (
	"context"
	"log/slog"
	"sync"
)

// subscription is one subscriber channel. An empty eventType matches
// every event.
type subscription struct {
	eventType string
	ch        chan Event
}

func (s subscription) matches(e Event) bool {
	return s.eventType == "" || s.eventType == e.EventType()
}

// Bus fans job events out to in-process subscribers and, when an
// EventLog is attached, records them for the audit trail.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	log    *EventLog // may be nil
	logger *slog.Logger
	closed bool
}

// NewBus creates a new event bus.
// The EventLog is optional - pass nil to disable persistence.
func NewBus(log *EventLog, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		log:    log,
		logger: logger.With("component", "bus"),
	}
}

// Publish persists the event when a log is attached, then delivers it to
// subscribers without blocking. Events for full channels are dropped.
// Persistence failures are logged; the event is still delivered.
func (b *Bus) Publish(_ context.Context, e Event) error {
	if b.log != nil {
		if _, err := b.log.Append(e); err != nil {
			b.logger.Error("failed to persist event", "type", e.EventType(), "job_id", e.EntityID(), "error", err)
		}
	}

	// Sends happen under the read lock so Close cannot close a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	for _, s := range b.subs {
		if !s.matches(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				"type", e.EventType(),
				"job_id", e.EntityID(),
				"subscription", s.eventType)
		}
	}
	return nil
}

// Subscribe returns a channel for events of a specific type.
// On a closed bus the returned channel is already closed.
func (b *Bus) Subscribe(eventType string, bufferSize int) <-chan Event {
	return b.subscribe(eventType, bufferSize)
}

// SubscribeAll returns a channel for all events.
func (b *Bus) SubscribeAll(bufferSize int) <-chan Event {
	return b.subscribe("", bufferSize)
}

func (b *Bus) subscribe(eventType string, bufferSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscription{eventType: eventType, ch: ch})
	return ch
}

// Unsubscribe removes and closes a subscription channel.
// Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.ch == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	return nil
}
