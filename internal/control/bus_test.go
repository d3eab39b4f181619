package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

func TestBusShutdownDelivered(t *testing.T) {
	bus := NewBus(1)
	bus.Shutdown()

	ev, err := bus.Listen(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, KindShutdown, ev.Kind)
}

func TestBusShutdownDoesNotBlockWhenFull(t *testing.T) {
	bus := NewBus(1)
	bus.Publish(ButtonEvent(types.ButtonVolumeUp, types.Pressed))

	returned := make(chan struct{})
	go func() {
		bus.Shutdown()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("shutdown blocked on a saturated bus")
	}

	// The buffered event is untouched; the shutdown was dropped, not queued
	// behind it.
	ev, err := bus.Listen(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, KindButton, ev.Kind)

	_, err = bus.Listen(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrListenTimeout)
}

func TestBusListenTimeout(t *testing.T) {
	bus := NewBus(1)

	_, err := bus.Listen(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrListenTimeout)
}
