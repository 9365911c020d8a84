package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmunix/grabbr/internal/events"
)

func TestBaseHandler_Fields(t *testing.T) {
	bus := events.NewBus(nil, nil)
	defer func() { _ = bus.Close() }()

	base := NewBaseHandler(bus, nil)
	assert.Same(t, bus, base.Bus())
	assert.NotNil(t, base.Logger(), "nil logger falls back to the default")
}

func TestBaseHandler_Consume(t *testing.T) {
	base := NewBaseHandler(nil, nil)
	ch := make(chan events.Event, 3)
	for _, id := range []string{"a", "b", "c"} {
		ch <- &events.JobCreated{BaseEvent: events.NewBaseEvent(events.EventJobCreated, events.EntityJob, id)}
	}
	close(ch)

	var seen []string
	err := base.Consume(context.Background(), ch, func(_ context.Context, e events.Event) error {
		seen = append(seen, e.EntityID())
		if e.EntityID() == "b" {
			return errors.New("store unavailable")
		}
		return nil
	})

	require.NoError(t, err, "closed channel ends consumption cleanly")
	assert.Equal(t, []string{"a", "b", "c"}, seen, "a failing event does not stop the loop")
}

func TestBaseHandler_Consume_ContextCancel(t *testing.T) {
	base := NewBaseHandler(nil, nil)
	ch := make(chan events.Event)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = base.Consume(ctx, ch, func(context.Context, events.Event) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}
