package control

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-reporter/internal/audio"
	"github.com/oszuidwest/zwfm-reporter/internal/config"
	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/streaming"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// pacedSource writes small frames until it is canceled or its output is
// marked done.
type pacedSource struct{}

func (s *pacedSource) Process(ctx context.Context, in, out *pipeline.Ringbuffer) error {
	for {
		if err := out.Write(ctx, []byte{0, 0, 0, 0}); err != nil {
			return err
		}
		select {
		case <-time.After(2 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *pacedSource) Reset() {}

// floodSource writes frames as fast as the buffer accepts them.
type floodSource struct{}

func (s *floodSource) Process(ctx context.Context, in, out *pipeline.Ringbuffer) error {
	frame := make([]byte, 32)
	for {
		if err := out.Write(ctx, frame); err != nil {
			return err
		}
	}
}

func (s *floodSource) Reset() {}

// drainSink consumes frames until its input drains.
type drainSink struct{}

func (s *drainSink) Process(ctx context.Context, in, out *pipeline.Ringbuffer) error {
	for {
		if _, err := in.Read(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *drainSink) Reset() {}

// openFailSink fails immediately as if the collector were unreachable.
type openFailSink struct{}

func (s *openFailSink) Process(ctx context.Context, in, out *pipeline.Ringbuffer) error {
	return pipeline.NewStatusError(pipeline.StatusOpen, errors.New("connection refused"))
}

func (s *openFailSink) Reset() {}

// fakeGain records every applied volume level.
type fakeGain struct {
	mu     sync.Mutex
	levels []int
}

func (g *fakeGain) Set(percent int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels = append(g.levels, percent)
	return nil
}

func (g *fakeGain) applied() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.levels)
}

// recordingHooks counts lifecycle notifications.
type recordingHooks struct {
	NopHooks
	mu         sync.Mutex
	started    int
	ended      int
	recoveries []bool
	errors     []pipeline.ErrorStatus
	volumes    []int
}

func (h *recordingHooks) SessionStarted(types.SessionRecord, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
}

func (h *recordingHooks) SessionEnded(types.SessionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended++
}

func (h *recordingHooks) StreamError(status pipeline.ErrorStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, status)
}

func (h *recordingHooks) RecoveryPerformed(dirty bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recoveries = append(h.recoveries, dirty)
}

func (h *recordingHooks) VolumeChanged(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volumes = append(h.volumes, level)
}

func (h *recordingHooks) recoveryCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recoveries)
}

func (h *recordingHooks) streamErrors() []pipeline.ErrorStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.errors)
}

func (h *recordingHooks) sessionCounts() (started, ended int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started, h.ended
}

// rig bundles a controller under test with its collaborators.
type rig struct {
	ctrl   *Controller
	bus    *Bus
	pipe   *pipeline.Pipeline
	hooks  *recordingHooks
	gain   *fakeGain
	cancel context.CancelFunc
	done   chan struct{}
}

// newRig builds a controller around the given stages and starts its loop.
// wireNotify controls whether pipeline transitions feed the bus.
func newRig(t *testing.T, producer, consumer pipeline.Stage, wireNotify bool) *rig {
	t.Helper()

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	bus := NewBus(0)
	var notify func(pipeline.Event)
	if wireNotify {
		notify = func(ev pipeline.Event) { bus.Publish(StageEvent(ev)) }
	}

	pipe := pipeline.New(notify)
	require.NoError(t, pipe.Register(TagCapture, producer))
	require.NoError(t, pipe.Register(TagUpload, consumer))
	require.NoError(t, pipe.Link(TagCapture, TagUpload))

	hooks := &recordingHooks{}
	gain := &fakeGain{}
	ctrl := New(Options{
		Config:   cfg,
		Bus:      bus,
		Pipeline: pipe,
		Capture:  audio.NewCapture(&audio.ToneSource{}, nil, nil),
		Upload:   streaming.NewUpload(),
		Gain:     gain,
		Hooks:    hooks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()

	r := &rig{ctrl: ctrl, bus: bus, pipe: pipe, hooks: hooks, gain: gain, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("control loop did not stop")
		}
	})
	return r
}

// allIdle reports whether every stage is back in the idle state.
func allIdle(pipe *pipeline.Pipeline) bool {
	for _, st := range pipe.States() {
		if st != pipeline.StateIdle {
			return false
		}
	}
	return true
}

func TestSessionStartStop(t *testing.T) {
	r := newRig(t, &pacedSource{}, &drainSink{}, true)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
	require.Eventually(t, func() bool {
		return r.ctrl.Recording() && r.pipe.Running()
	}, 2*time.Second, 10*time.Millisecond)

	status := r.ctrl.Status()
	require.NotEmpty(t, status.SessionID)
	require.Equal(t, config.DefaultCollectorURL, status.Endpoint)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Released))
	require.Eventually(t, func() bool {
		return !r.ctrl.Recording() && allIdle(r.pipe)
	}, 2*time.Second, 10*time.Millisecond)

	started, ended := r.hooks.sessionCounts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, ended)

	sessions := r.ctrl.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, ResultCompleted, sessions[0].Result)
	require.NotZero(t, sessions[0].EndedAt)
}

func TestReleaseDeliversCompleteUpload(t *testing.T) {
	type outcome struct {
		body []byte
		err  error
	}
	received := make(chan outcome, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		received <- outcome{body: body, err: err}
		if err != nil {
			http.Error(w, "truncated stream", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetCollectorURL(srv.URL))

	// The real upload stage is both the pipeline consumer and the byte
	// counter the controller reads.
	upload := streaming.NewUpload()
	bus := NewBus(0)
	pipe := pipeline.New(func(ev pipeline.Event) { bus.Publish(StageEvent(ev)) })
	require.NoError(t, pipe.Register(TagCapture, &floodSource{}))
	require.NoError(t, pipe.Register(TagUpload, upload))
	require.NoError(t, pipe.Link(TagCapture, TagUpload))

	hooks := &recordingHooks{}
	ctrl := New(Options{
		Config:   cfg,
		Bus:      bus,
		Pipeline: pipe,
		Capture:  audio.NewCapture(&audio.ToneSource{}, nil, nil),
		Upload:   upload,
		Hooks:    hooks,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("control loop did not stop")
		}
	})

	const runs = 5
	for run := range runs {
		bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
		require.Eventually(t, func() bool { return ctrl.Recording() }, 2*time.Second, 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		bus.Publish(ButtonEvent(types.ButtonRecord, types.Released))
		require.Eventually(t, func() bool {
			return !ctrl.Recording() && allIdle(pipe)
		}, 2*time.Second, 10*time.Millisecond)

		select {
		case got := <-received:
			require.NoError(t, got.err, "run %d: collector saw a malformed chunked stream", run)
			require.NotEmpty(t, got.body, "run %d: collector received no payload", run)
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d: upload never completed", run)
		}
	}

	sessions := ctrl.Sessions()
	require.Len(t, sessions, runs)
	for _, session := range sessions {
		require.Equal(t, ResultCompleted, session.Result)
		require.NotZero(t, session.Bytes)
	}
}

func TestLongReleaseStopsLikeRelease(t *testing.T) {
	r := newRig(t, &pacedSource{}, &drainSink{}, true)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
	require.Eventually(t, func() bool { return r.ctrl.Recording() }, 2*time.Second, 10*time.Millisecond)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.LongReleased))
	require.Eventually(t, func() bool {
		return !r.ctrl.Recording() && allIdle(r.pipe)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRepeatedStartStopConverges(t *testing.T) {
	r := newRig(t, &pacedSource{}, &drainSink{}, true)

	for range 3 {
		r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
		require.Eventually(t, func() bool { return r.ctrl.Recording() }, 2*time.Second, 10*time.Millisecond)

		r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Released))
		require.Eventually(t, func() bool {
			return !r.ctrl.Recording() && allIdle(r.pipe)
		}, 2*time.Second, 10*time.Millisecond)
	}

	started, ended := r.hooks.sessionCounts()
	require.Equal(t, 3, started)
	require.Equal(t, 3, ended)
}

func TestSafeResetIdempotentFromClean(t *testing.T) {
	var events []pipeline.Event
	var mu sync.Mutex

	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	pipe := pipeline.New(func(ev pipeline.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, pipe.Register(TagCapture, &pacedSource{}))
	require.NoError(t, pipe.Register(TagUpload, &drainSink{}))
	require.NoError(t, pipe.Link(TagCapture, TagUpload))

	hooks := &recordingHooks{}
	ctrl := New(Options{
		Config:   cfg,
		Bus:      NewBus(0),
		Pipeline: pipe,
		Capture:  audio.NewCapture(&audio.ToneSource{}, nil, nil),
		Upload:   streaming.NewUpload(),
		Hooks:    hooks,
	})

	ctrl.SafeReset()
	ctrl.SafeReset()

	require.False(t, ctrl.Recording())
	mu.Lock()
	require.Empty(t, events, "clean resets must not cause stage transitions")
	mu.Unlock()

	hooks.mu.Lock()
	require.Equal(t, []bool{false, false}, hooks.recoveries)
	hooks.mu.Unlock()
}

func TestVolumeClamping(t *testing.T) {
	r := newRig(t, &pacedSource{}, &drainSink{}, true)
	require.Equal(t, types.DefaultVolume, r.ctrl.Volume())

	for range 5 {
		r.bus.Publish(ButtonEvent(types.ButtonVolumeUp, types.Pressed))
	}
	require.Eventually(t, func() bool { return r.ctrl.Volume() == types.VolumeMax }, 2*time.Second, 10*time.Millisecond)

	for range 12 {
		r.bus.Publish(ButtonEvent(types.ButtonVolumeDown, types.Pressed))
	}
	require.Eventually(t, func() bool { return r.ctrl.Volume() == types.VolumeMin }, 2*time.Second, 10*time.Millisecond)

	applied := r.gain.applied()
	require.NotEmpty(t, applied)
	for _, level := range applied {
		require.GreaterOrEqual(t, level, types.VolumeMin)
		require.LessOrEqual(t, level, types.VolumeMax)
	}
}

func TestVolumeIndependentOfRecording(t *testing.T) {
	r := newRig(t, &pacedSource{}, &drainSink{}, true)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
	require.Eventually(t, func() bool { return r.ctrl.Recording() }, 2*time.Second, 10*time.Millisecond)

	r.bus.Publish(ButtonEvent(types.ButtonVolumeUp, types.Pressed))
	require.Eventually(t, func() bool {
		return r.ctrl.Volume() == types.DefaultVolume+types.VolumeStep
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, r.ctrl.Recording(), "volume adjustment must not touch the session")
}

func TestStageErrorTriggersSingleRecovery(t *testing.T) {
	r := newRig(t, &pacedSource{}, &openFailSink{}, true)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))

	require.Eventually(t, func() bool {
		return !r.ctrl.Recording() && allIdle(r.pipe) && r.hooks.recoveryCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []pipeline.ErrorStatus{pipeline.StatusOpen}, r.hooks.streamErrors())
	require.Equal(t, 1, r.hooks.recoveryCount())
	require.Equal(t, string(pipeline.StatusOpen), r.ctrl.Status().LastError)

	sessions := r.ctrl.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, "error_open", sessions[0].Result)
}

func TestStartAfterErrorResetsExactlyOnce(t *testing.T) {
	// No bus wiring: the stale error is only visible through the pre-start
	// state snapshot.
	r := newRig(t, &pacedSource{}, &openFailSink{}, false)

	// Leave the pipeline with an errored consumer and a running producer.
	require.NoError(t, r.pipe.Run())
	require.Eventually(t, func() bool {
		return r.pipe.States()[TagUpload] == pipeline.StateError
	}, 2*time.Second, 10*time.Millisecond)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
	require.Eventually(t, func() bool { return r.ctrl.Recording() }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, r.hooks.recoveryCount(), "exactly one recovery pass before the new run")
	require.True(t, r.pipe.Running())
}

func TestMusicInfoDoesNotAffectSession(t *testing.T) {
	r := newRig(t, &pacedSource{}, &drainSink{}, true)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
	require.Eventually(t, func() bool { return r.ctrl.Recording() }, 2*time.Second, 10*time.Millisecond)

	r.bus.Publish(MusicInfoEvent(MusicInfo{SampleRate: 44100, BitsPerSample: 16, Channels: 2}))
	require.Eventually(t, func() bool {
		return r.ctrl.PlaybackFormat().SampleRate == 44100
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, r.ctrl.Recording())
	require.True(t, r.pipe.Running())
}

func TestShutdownUnwindsRunningSession(t *testing.T) {
	r := newRig(t, &pacedSource{}, &drainSink{}, true)

	r.bus.Publish(ButtonEvent(types.ButtonRecord, types.Pressed))
	require.Eventually(t, func() bool { return r.ctrl.Recording() }, 2*time.Second, 10*time.Millisecond)

	r.bus.Shutdown()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on shutdown event")
	}

	require.False(t, r.ctrl.Recording())
	require.True(t, allIdle(r.pipe))
}
