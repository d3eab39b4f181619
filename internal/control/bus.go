// Package control provides the reporter's control loop: a single goroutine
// that receives button and stage events from one bus, drives the capture
// pipeline through its lifecycle, and restores it to idle through the
// recovery path whenever a session ends or fails.
package control

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// DefaultBusCapacity is the number of events the bus buffers before
// Publish starts dropping.
const DefaultBusCapacity = 64

// ErrListenTimeout is returned by Listen when the receive timeout expires
// before an event arrives.
var ErrListenTimeout = errors.New("event bus receive timed out")

// EventKind categorizes bus events. Categories are mutually exclusive; the
// control loop dispatches on the kind and nothing else.
type EventKind string

const (
	// KindButton is a physical or injected button edge.
	KindButton EventKind = "button"
	// KindStage is a pipeline stage transition.
	KindStage EventKind = "stage"
	// KindMusicInfo is a playback-chain format report.
	KindMusicInfo EventKind = "music_info"
	// KindShutdown asks the control loop to unwind and return.
	KindShutdown EventKind = "shutdown"
)

// MusicInfo is the stream format reported by the playback decode chain.
type MusicInfo struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// Event is one message on the control bus.
type Event struct {
	Kind       EventKind
	Button     types.Button           // set for KindButton
	Transition types.ButtonTransition // set for KindButton
	Stage      pipeline.Event         // set for KindStage
	Info       MusicInfo              // set for KindMusicInfo
}

// ButtonEvent returns a button edge event.
func ButtonEvent(button types.Button, transition types.ButtonTransition) Event {
	return Event{Kind: KindButton, Button: button, Transition: transition}
}

// StageEvent wraps a pipeline stage transition for the bus.
func StageEvent(ev pipeline.Event) Event {
	return Event{Kind: KindStage, Stage: ev}
}

// MusicInfoEvent returns a playback format report event.
func MusicInfoEvent(info MusicInfo) Event {
	return Event{Kind: KindMusicInfo, Info: info}
}

// Bus carries events from the input surface and the pipeline to the control
// loop. Publishers never block: when the buffer is full the event is dropped
// and logged, which only happens when the loop itself has stalled.
type Bus struct {
	events chan Event
}

// NewBus returns a bus buffering up to capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{events: make(chan Event, capacity)}
}

// Publish enqueues an event without blocking.
func (b *Bus) Publish(ev Event) {
	select {
	case b.events <- ev:
	default:
		slog.Warn("event bus full, dropping event", "kind", ev.Kind)
	}
}

// Shutdown asks the control loop to unwind. Delivery is best effort like
// Publish: a saturated buffer means the loop has stalled or already exited,
// and context cancellation remains the fallback stop path.
func (b *Bus) Shutdown() {
	b.Publish(Event{Kind: KindShutdown})
}

// Listen blocks until an event arrives, the timeout expires, or ctx is
// canceled. A timeout of zero or less means wait forever, which is the
// steady-state policy.
func (b *Bus) Listen(ctx context.Context, timeout time.Duration) (Event, error) {
	if timeout <= 0 {
		select {
		case ev := <-b.events:
			return ev, nil
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case ev := <-b.events:
		return ev, nil
	case <-deadline.C:
		return Event{}, ErrListenTimeout
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
