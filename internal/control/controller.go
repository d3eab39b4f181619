package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/audio"
	"github.com/oszuidwest/zwfm-reporter/internal/config"
	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/streaming"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// Stage tags of the capture pipeline. The capture stage is the producer,
// the upload stage the consumer.
const (
	TagCapture = "capture"
	TagUpload  = "upload"
)

// ClockSink receives the playback chain's stream format so the playback
// writer can match its clock. The capture session is unaffected.
type ClockSink interface {
	SetClock(sampleRate, bitsPerSample, channels int) error
}

// Options configures a Controller.
type Options struct {
	Config   *config.Config
	Bus      *Bus
	Pipeline *pipeline.Pipeline
	Capture  *audio.Capture
	Upload   *streaming.Upload
	Gain     audio.Gain // nil skips the hardware mixer
	Clock    ClockSink  // nil logs playback format reports only
	Hooks    Hooks      // nil for no notifications

	// ListenTimeout bounds each bus receive. Zero means wait forever,
	// which is the default policy.
	ListenTimeout time.Duration
	// HistorySize bounds the kept session records, DefaultHistorySize
	// when zero.
	HistorySize int
}

// Controller is the single-threaded control loop. It owns the session flag
// and the volume level; both are mutated only from the loop goroutine and
// published to outside readers through snapshot accessors.
type Controller struct {
	cfg     *config.Config
	bus     *Bus
	pipe    *pipeline.Pipeline
	capture *audio.Capture
	upload  *streaming.Upload
	gain    audio.Gain
	clock   ClockSink
	hooks   Hooks

	listenTimeout time.Duration
	history       *history
	started       time.Time

	mu        sync.RWMutex
	recording bool
	current   types.SessionRecord
	volume    int
	lastError string
	playback  MusicInfo
}

// New returns a controller wired to the given collaborators. The volume
// level starts at the persisted configuration value.
func New(opts Options) *Controller {
	hooks := opts.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}

	return &Controller{
		cfg:           opts.Config,
		bus:           opts.Bus,
		pipe:          opts.Pipeline,
		capture:       opts.Capture,
		upload:        opts.Upload,
		gain:          opts.Gain,
		clock:         opts.Clock,
		hooks:         hooks,
		listenTimeout: opts.ListenTimeout,
		history:       newHistory(opts.HistorySize),
		started:       time.Now(),
		volume:        opts.Config.Volume(),
	}
}

// Bus returns the control bus for event injection.
func (c *Controller) Bus() *Bus {
	return c.bus
}

// Run executes the dispatch loop until a shutdown event arrives or ctx is
// canceled. Either way the pipeline is reset to idle before returning.
func (c *Controller) Run(ctx context.Context) error {
	slog.Info("control loop started")

	if c.gain != nil {
		if err := c.gain.Set(c.Volume()); err != nil {
			slog.Warn("failed to apply startup volume", "error", err)
		}
	}

	for {
		ev, err := c.bus.Listen(ctx, c.listenTimeout)
		if err != nil {
			if errors.Is(err, ErrListenTimeout) {
				slog.Warn("event bus receive timed out")
				continue
			}
			// Context cancellation unwinds like a shutdown event.
			c.SafeReset()
			slog.Info("control loop stopped", "reason", err)
			return err
		}

		switch ev.Kind {
		case KindShutdown:
			c.SafeReset()
			slog.Info("control loop stopped")
			return nil
		case KindButton:
			c.handleButton(ev.Button, ev.Transition)
			continue
		case KindStage:
			c.handleStage(ev.Stage)
			continue
		case KindMusicInfo:
			c.handleMusicInfo(ev.Info)
			continue
		default:
			slog.Warn("unknown event kind", "kind", ev.Kind)
		}
	}
}

// handleButton dispatches one button edge.
func (c *Controller) handleButton(button types.Button, transition types.ButtonTransition) {
	switch button {
	case types.ButtonVolumeUp:
		if transition == types.Pressed {
			c.adjustVolume(types.VolumeStep)
		}
	case types.ButtonVolumeDown:
		if transition == types.Pressed {
			c.adjustVolume(-types.VolumeStep)
		}
	case types.ButtonRecord:
		switch transition {
		case types.Pressed:
			c.startSession()
		case types.Released, types.LongReleased:
			// Both release variants share the same stop semantics.
			if c.Recording() {
				slog.Info("record button released, stopping session")
				c.SafeReset()
			}
		}
	default:
		slog.Warn("unknown button", "button", button)
	}
}

// adjustVolume moves the volume one step, clamps it, and applies it to the
// hardware mixer. Volume is independent of the recording state.
func (c *Controller) adjustVolume(delta int) {
	c.mu.Lock()
	level := min(types.VolumeMax, max(types.VolumeMin, c.volume+delta))
	changed := level != c.volume
	c.volume = level
	c.mu.Unlock()

	if c.gain != nil {
		if err := c.gain.Set(level); err != nil {
			slog.Warn("failed to apply volume", "level", level, "error", err)
		}
	}
	slog.Info("volume adjusted", "level", level)

	if changed {
		if err := c.cfg.SetVolume(level); err != nil {
			slog.Warn("failed to persist volume", "error", err)
		}
		c.hooks.VolumeChanged(level)
	}
}

// startSession begins a new capture session unless one is active. A
// pipeline that is not clean is reset first and given a short settle delay,
// so a new session never starts on top of an unflushed previous one.
func (c *Controller) startSession() {
	if c.Recording() {
		slog.Debug("record pressed while already recording")
		return
	}

	if needsReset(c.pipe.States()) {
		slog.Info("pipeline not clean before start, resetting first")
		c.SafeReset()
		time.Sleep(types.SettleDelay)
	}

	snap := c.cfg.Snapshot()
	c.upload.SetEndpoint(snap.CollectorURL, snap.UploadAPIKey)

	if err := c.pipe.Run(); err != nil {
		slog.Error("failed to start pipeline", "error", err)
		return
	}

	rec := types.SessionRecord{
		ID:        newSessionID(),
		StartedAt: time.Now().Unix(),
		Result:    ResultActive,
	}
	c.history.add(rec)

	c.mu.Lock()
	c.recording = true
	c.current = rec
	c.lastError = ""
	c.mu.Unlock()

	slog.Info("session started", "id", rec.ID, "endpoint", snap.CollectorURL)
	c.hooks.SessionStarted(rec, snap.CollectorURL)
}

// handleStage reacts to a pipeline stage transition. Error statuses are
// handled uniformly: log, recover, continue. No status escalates past the
// loop.
func (c *Controller) handleStage(ev pipeline.Event) {
	if ev.State != pipeline.StateError {
		slog.Debug("stage transition", "tag", ev.Tag, "state", ev.State)
		return
	}

	slog.Error("stage reported error", "tag", ev.Tag, "status", ev.Status)
	if ev.Status == pipeline.StatusOpen {
		slog.Warn("collector connection failed, check network and collector URL",
			"endpoint", c.upload.Endpoint())
	}

	c.mu.Lock()
	c.lastError = string(ev.Status)
	c.mu.Unlock()

	c.hooks.StreamError(ev.Status)
	c.SafeReset()
}

// handleMusicInfo reconfigures the playback writer's clock to the reported
// format. It never touches the capture session.
func (c *Controller) handleMusicInfo(info MusicInfo) {
	slog.Info("playback format reported",
		"sample_rate", info.SampleRate, "bits", info.BitsPerSample, "channels", info.Channels)

	c.mu.Lock()
	c.playback = info
	c.mu.Unlock()

	if c.clock != nil {
		if err := c.clock.SetClock(info.SampleRate, info.BitsPerSample, info.Channels); err != nil {
			slog.Warn("failed to set playback clock", "error", err)
		}
	}
}

// needsReset reports whether any stage requires a stop sequence before a
// new run.
func needsReset(states map[string]pipeline.State) bool {
	for _, st := range states {
		if st.IsActive() || st == pipeline.StateError {
			return true
		}
	}
	return false
}

// SafeReset brings the pipeline from any state combination back to idle.
// It never double-invokes a stop primitive, and it clears the session flag
// as its last step regardless of which branch ran. Safe to call from every
// handler without knowing the pipeline's prior state.
func (c *Controller) SafeReset() {
	if c.pipe == nil {
		c.finishSession(ResultCompleted, 0)
		return
	}

	states := c.pipe.States()
	dirty := needsReset(states)
	if dirty {
		// Mark the producer's output done first so a consumer starved of
		// input unblocks instead of waiting out the stop timeout.
		if states[TagCapture].IsActive() {
			if err := c.pipe.SetDone(TagCapture); err != nil {
				slog.Warn("failed to mark capture output done", "error", err)
			}
		}

		c.pipe.Stop()
		if err := c.pipe.WaitForStop(types.StopWaitTimeout); err != nil {
			slog.Warn("stop barrier incomplete", "error", err)
		}

		// Snapshot the outcome before any reset: ResetElements and
		// Terminate clear stage statuses and the byte counter.
		after := c.pipe.States()
		result := c.terminalResult(after)
		bytes := c.upload.BytesSent()

		if !(after[TagCapture].IsTerminal() && after[TagUpload].IsTerminal()) {
			// Stop raced an error transition; clear stale buffered data.
			if err := c.pipe.ResetRingbuffer(); err != nil {
				slog.Warn("failed to reset ringbuffer", "error", err)
			}
			if err := c.pipe.ResetElements(); err != nil {
				slog.Warn("failed to reset stages", "error", err)
			}
		}

		if err := c.pipe.Terminate(); err != nil {
			slog.Warn("failed to terminate pipeline", "error", err)
		}

		c.finishSession(result, bytes)
	} else {
		c.finishSession(ResultCompleted, c.upload.BytesSent())
	}

	c.hooks.RecoveryPerformed(dirty)
}

// terminalResult derives a session result from the post-stop stage states.
func (c *Controller) terminalResult(states map[string]pipeline.State) string {
	for _, tag := range []string{TagUpload, TagCapture} {
		if states[tag] != pipeline.StateError {
			continue
		}
		status, err := c.pipe.Status(tag)
		if err != nil || status == "" {
			status = pipeline.StatusUnknown
		}
		return "error_" + string(status)
	}
	return ResultCompleted
}

// finishSession clears the session flag and closes the active session
// record, if any.
func (c *Controller) finishSession(result string, bytes int64) {
	c.mu.Lock()
	wasRecording := c.recording
	rec := c.current
	c.recording = false
	c.current = types.SessionRecord{}
	c.mu.Unlock()

	if !wasRecording || rec.ID == "" {
		return
	}

	rec.EndedAt = time.Now().Unix()
	rec.Bytes = bytes
	rec.Result = result
	c.history.update(rec)

	slog.Info("session ended", "id", rec.ID, "bytes", rec.Bytes, "result", rec.Result)
	c.hooks.SessionEnded(rec)
}

// Recording reports whether a capture session is active.
func (c *Controller) Recording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

// Volume returns the current volume level.
func (c *Controller) Volume() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volume
}

// PlaybackFormat returns the last reported playback stream format.
func (c *Controller) PlaybackFormat() MusicInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playback
}

// Levels returns the most recent capture level measurement.
func (c *Controller) Levels() types.AudioLevels {
	return c.capture.Levels()
}

// Sessions returns the kept session records, newest first.
func (c *Controller) Sessions() []types.SessionRecord {
	return c.history.Snapshot()
}

// Status returns a snapshot of the session state for outside readers.
func (c *Controller) Status() types.SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := types.SessionStatus{
		Recording: c.recording,
		BytesSent: c.upload.BytesSent(),
		Endpoint:  c.upload.Endpoint(),
		Volume:    c.volume,
		LastError: c.lastError,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
	}
	if c.recording {
		status.SessionID = c.current.ID
		status.StartedAt = time.Unix(c.current.StartedAt, 0).Format(time.RFC3339)
	}
	return status
}

// Stages returns the pipeline stage states in link order.
func (c *Controller) Stages() []types.StageInfo {
	states := c.pipe.States()
	order := c.pipe.Order()
	if len(order) == 0 {
		order = []string{TagCapture, TagUpload}
	}

	infos := make([]types.StageInfo, 0, len(order))
	for _, tag := range order {
		st, ok := states[tag]
		if !ok {
			continue
		}
		info := types.StageInfo{Tag: tag, State: string(st)}
		if st == pipeline.StateError {
			if status, err := c.pipe.Status(tag); err == nil {
				info.Status = string(status)
			}
		}
		infos = append(infos, info)
	}
	return infos
}
