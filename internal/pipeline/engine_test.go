package pipeline

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// frameSource writes a fixed set of frames and finishes.
type frameSource struct {
	frames [][]byte
}

func (s *frameSource) Process(ctx context.Context, in, out *Ringbuffer) error {
	for _, frame := range s.frames {
		if err := out.Write(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *frameSource) Reset() {}

// frameSink collects frames until its input drains.
type frameSink struct {
	mu       sync.Mutex
	received [][]byte
}

func (s *frameSink) Process(ctx context.Context, in, out *Ringbuffer) error {
	for {
		frame, err := in.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.received = append(s.received, frame)
		s.mu.Unlock()
	}
}

func (s *frameSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = nil
}

func (s *frameSink) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// blockSource writes frames until it is canceled.
type blockSource struct{}

func (s *blockSource) Process(ctx context.Context, in, out *Ringbuffer) error {
	for {
		if err := out.Write(ctx, make([]byte, 4)); err != nil {
			return err
		}
	}
}

func (s *blockSource) Reset() {}

// idleSource produces nothing and waits for cancellation.
type idleSource struct{}

func (s *idleSource) Process(ctx context.Context, in, out *Ringbuffer) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *idleSource) Reset() {}

// failStage fails immediately with the configured error.
type failStage struct {
	err error
}

func (s *failStage) Process(ctx context.Context, in, out *Ringbuffer) error {
	return s.err
}

func (s *failStage) Reset() {}

// eventLog records published stage transitions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *eventLog) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func testFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = []byte{byte(i), byte(i + 1)}
	}
	return frames
}

func TestRegisterAndLink(t *testing.T) {
	p := New(nil)

	require.NoError(t, p.Register("capture", &frameSource{}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.ErrorIs(t, p.Register("capture", &frameSource{}), ErrDuplicateTag)

	require.ErrorIs(t, p.Link("capture"), ErrTooFewStages)
	require.ErrorIs(t, p.Link("capture", "ghost"), ErrUnknownTag)
	require.ErrorIs(t, p.Link("capture", "capture"), ErrDuplicateTag)
	require.False(t, p.Linked())

	require.NoError(t, p.Link("capture", "upload"))
	require.True(t, p.Linked())
	require.Equal(t, []string{"capture", "upload"}, p.Order())

	// The chain is frozen once linked
	require.ErrorIs(t, p.Register("extra", &frameSink{}), ErrAlreadyLinked)
	require.ErrorIs(t, p.Link("capture", "upload"), ErrAlreadyLinked)
}

func TestRunRequiresLink(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &frameSource{}))
	require.ErrorIs(t, p.Run(), ErrNotLinked)
}

func TestRunDeliversFramesInOrder(t *testing.T) {
	frames := testFrames(5)
	sink := &frameSink{}
	log := &eventLog{}

	p := New(log.record)
	require.NoError(t, p.Register("capture", &frameSource{frames: frames}))
	require.NoError(t, p.Register("upload", sink))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.NoError(t, p.WaitForStop(time.Second))

	require.Equal(t, frames, sink.frames())

	captureState, err := p.State("capture")
	require.NoError(t, err)
	require.Equal(t, StateFinished, captureState)
	uploadState, err := p.State("upload")
	require.NoError(t, err)
	require.Equal(t, StateFinished, uploadState)
	require.True(t, p.Clean())

	require.Equal(t, []Event{
		{Tag: "capture", State: StateRunning},
		{Tag: "upload", State: StateRunning},
		{Tag: "capture", State: StateFinished},
		{Tag: "upload", State: StateFinished},
	}, log.snapshot())
}

func TestStopHaltsAllStages(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &blockSource{}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.True(t, p.Running())

	p.Stop()
	require.NoError(t, p.WaitForStop(time.Second))
	require.False(t, p.Running())

	for tag, state := range p.States() {
		require.Equal(t, StateStopped, state, "stage %s", tag)
	}
}

func TestRunWhileActiveFails(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &idleSource{}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.ErrorIs(t, p.Run(), ErrRunning)
	require.ErrorIs(t, p.ResetRingbuffer(), ErrRunning)
	require.ErrorIs(t, p.ResetElements(), ErrRunning)
	require.ErrorIs(t, p.Terminate(), ErrRunning)
	require.ErrorIs(t, p.Unregister("capture"), ErrRunning)

	p.Stop()
	require.NoError(t, p.WaitForStop(time.Second))
}

func TestRunValidAfterFinish(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &frameSource{frames: testFrames(2)}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.NoError(t, p.WaitForStop(time.Second))

	// Finished stages do not block a new run
	require.NoError(t, p.Run())
	require.NoError(t, p.WaitForStop(time.Second))
}

func TestErrorStatusClassification(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &frameSource{frames: testFrames(1)}))
	require.NoError(t, p.Register("upload", &failStage{err: NewStatusError(StatusOpen, errors.New("dial tcp: connection refused"))}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.NoError(t, p.WaitForStop(time.Second))

	state, err := p.State("upload")
	require.NoError(t, err)
	require.Equal(t, StateError, state)
	status, err := p.Status("upload")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, status)
	require.False(t, p.Clean())
}

func TestUnclassifiedErrorReportsUnknown(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &frameSource{frames: testFrames(1)}))
	require.NoError(t, p.Register("upload", &failStage{err: errors.New("boom")}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.NoError(t, p.WaitForStop(time.Second))

	status, err := p.Status("upload")
	require.NoError(t, err)
	require.Equal(t, StatusUnknown, status)
}

func TestResetsRestoreCleanState(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &blockSource{}))
	require.NoError(t, p.Register("upload", &failStage{err: NewStatusError(StatusOpen, errors.New("refused"))}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	p.Stop()
	require.NoError(t, p.WaitForStop(time.Second))
	require.False(t, p.Clean())

	require.NoError(t, p.ResetRingbuffer())
	require.NoError(t, p.ResetElements())
	require.True(t, p.Clean())

	state, err := p.State("upload")
	require.NoError(t, err)
	require.Equal(t, StateIdle, state)
}

func TestRunAfterTerminateRepeatsStartupSequence(t *testing.T) {
	log := &eventLog{}

	p := New(log.record)
	require.NoError(t, p.Register("capture", &frameSource{frames: testFrames(3)}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.NoError(t, p.WaitForStop(time.Second))
	first := log.snapshot()
	require.Len(t, first, 4)

	require.NoError(t, p.Terminate())
	for tag, state := range p.States() {
		require.Equal(t, StateIdle, state, "stage %s", tag)
	}
	log.clear()

	require.NoError(t, p.Run())
	require.NoError(t, p.WaitForStop(time.Second))

	require.Equal(t, first, log.snapshot())
}

func TestSetDoneUnblocksStarvedConsumer(t *testing.T) {
	sink := &frameSink{}

	p := New(nil)
	require.NoError(t, p.Register("capture", &idleSource{}))
	require.NoError(t, p.Register("upload", sink))
	require.NoError(t, p.Link("capture", "upload"))

	require.ErrorIs(t, p.SetDone("ghost"), ErrUnknownTag)
	require.ErrorIs(t, p.SetDone("upload"), ErrNoOutput)

	require.NoError(t, p.Run())

	// The consumer is starved; marking the producer's output done lets
	// it drain and finish.
	require.NoError(t, p.SetDone("capture"))

	deadline := time.After(time.Second)
	for {
		state, err := p.State("upload")
		require.NoError(t, err)
		if state == StateFinished {
			break
		}
		select {
		case <-deadline:
			t.Fatal("consumer did not finish after SetDone")
		case <-time.After(10 * time.Millisecond):
		}
	}

	p.Stop()
	require.NoError(t, p.WaitForStop(time.Second))
}

func TestWaitForStopTimeout(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &idleSource{}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.NoError(t, p.Link("capture", "upload"))

	require.NoError(t, p.Run())
	require.ErrorIs(t, p.WaitForStop(50*time.Millisecond), ErrStopTimeout)

	p.Stop()
	require.NoError(t, p.WaitForStop(time.Second))
}

func TestUnregisterDissolvesLink(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &frameSource{}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.NoError(t, p.Link("capture", "upload"))

	require.ErrorIs(t, p.Unregister("ghost"), ErrUnknownTag)
	require.NoError(t, p.Unregister("capture"))
	require.False(t, p.Linked())
	require.Empty(t, p.Order())

	// The removed stage is gone for good
	require.ErrorIs(t, p.Link("capture", "upload"), ErrUnknownTag)
}

func TestDeinitReleasesEverything(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("capture", &idleSource{}))
	require.NoError(t, p.Register("upload", &frameSink{}))
	require.NoError(t, p.Link("capture", "upload"))
	require.NoError(t, p.Run())

	require.NoError(t, p.Deinit())
	require.False(t, p.Linked())
	require.Empty(t, p.States())
	require.ErrorIs(t, p.Run(), ErrNotLinked)
}
