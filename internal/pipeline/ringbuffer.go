// Package pipeline provides the stage chain that moves captured audio to the
// uploader: a registry of named stages, bounded transport buffers between
// them, and the lifecycle primitives (run, stop, reset, terminate) the
// control loop drives.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
)

// DefaultRingbufferCapacity is the number of frames a transport buffer holds.
const DefaultRingbufferCapacity = 64

// ErrDone indicates the ringbuffer was marked done and accepts no more writes.
var ErrDone = errors.New("ringbuffer marked done")

// Ringbuffer is the bounded transport buffer between two adjacent stages.
// One producer writes frames, one consumer reads them. SetDone signals the
// consumer that no further data is coming; the consumer drains buffered
// frames and then receives io.EOF. Reset restores a fresh, empty buffer and
// must only be called while no stage is using it.
type Ringbuffer struct {
	mu       sync.Mutex
	frames   chan []byte
	done     chan struct{}
	capacity int
}

// NewRingbuffer returns an empty ringbuffer holding up to capacity frames.
func NewRingbuffer(capacity int) *Ringbuffer {
	if capacity <= 0 {
		capacity = DefaultRingbufferCapacity
	}
	return &Ringbuffer{
		frames:   make(chan []byte, capacity),
		done:     make(chan struct{}),
		capacity: capacity,
	}
}

// channels returns the current frame and done channels.
func (r *Ringbuffer) channels() (chan []byte, chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames, r.done
}

// Write appends one frame, blocking while the buffer is full.
// It returns ErrDone after SetDone and the context error on cancellation.
func (r *Ringbuffer) Write(ctx context.Context, frame []byte) error {
	frames, done := r.channels()

	select {
	case <-done:
		return ErrDone
	default:
	}

	select {
	case frames <- frame:
		return nil
	case <-done:
		return ErrDone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read removes and returns the oldest frame, blocking while the buffer is
// empty. After SetDone it drains remaining frames and then returns io.EOF.
// Buffered frames and the done signal take precedence over cancellation, so
// a stop that follows SetDone still drains to a clean EOF instead of racing
// into the context error.
func (r *Ringbuffer) Read(ctx context.Context) ([]byte, error) {
	frames, done := r.channels()

	for {
		select {
		case frame := <-frames:
			return frame, nil
		default:
		}

		select {
		case <-done:
			// Drain frames buffered before done was signaled
			select {
			case frame := <-frames:
				return frame, nil
			default:
				return nil, io.EOF
			}
		default:
		}

		select {
		case frame := <-frames:
			return frame, nil
		case <-done:
			// Loop: the drain check above decides between frame and EOF.
		case <-ctx.Done():
			select {
			case <-done:
				// Done landed with the cancellation; take the drain path.
			default:
				return nil, ctx.Err()
			}
		}
	}
}

// SetDone marks the buffer as exhausted on the producer side. Blocked
// writers fail with ErrDone; the consumer drains and then sees io.EOF.
// Calling SetDone more than once is harmless.
func (r *Ringbuffer) SetDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Done reports whether SetDone has been called since the last reset.
func (r *Ringbuffer) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered frames.
func (r *Ringbuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Reset discards buffered frames and clears the done mark. Only valid while
// no stage is reading or writing; the engine enforces this.
func (r *Ringbuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = make(chan []byte, r.capacity)
	r.done = make(chan struct{})
}
