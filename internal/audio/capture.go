package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// Capture is the producer stage of the streaming pipeline. It reads PCM
// frames from a Source, meters each frame for the level API and the silence
// watch, and hands the frames to the transport buffer.
type Capture struct {
	source     Source
	silenceCfg func() SilenceConfig // nil disables silence detection
	onSilence  func(SilenceEvent)   // invoked on enter/recover transitions

	peak     *PeakHolder
	detector *SilenceDetector

	mu   sync.Mutex
	last types.AudioLevels
}

// NewCapture returns a capture stage reading from source. silenceCfg
// supplies the current detection thresholds and may be nil to disable the
// silence watch; onSilence receives enter/recover transitions.
func NewCapture(source Source, silenceCfg func() SilenceConfig, onSilence func(SilenceEvent)) *Capture {
	return &Capture{
		source:     source,
		silenceCfg: silenceCfg,
		onSilence:  onSilence,
		peak:       NewPeakHolder(),
		detector:   NewSilenceDetector(),
		last:       types.AudioLevels{RMS: MinDB, Peak: MinDB},
	}
}

// Process implements pipeline.Stage.
func (c *Capture) Process(ctx context.Context, in, out *pipeline.Ringbuffer) error {
	if err := c.source.Open(ctx); err != nil {
		return pipeline.NewStatusError(pipeline.StatusOpen, err)
	}
	defer util.SafeCloseFunc(c.source, "capture source")()

	buf := make([]byte, FrameBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := c.source.ReadFrame(buf)
		if n > 0 {
			frame := bytes.Clone(buf[:n])
			c.meter(frame)
			if werr := out.Write(ctx, frame); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return pipeline.NewStatusError(pipeline.StatusInput, err)
		}
	}
}

// Reset implements pipeline.Stage. It clears the meter so a later run
// starts from the same state as a fresh stage.
func (c *Capture) Reset() {
	c.peak.Reset()
	c.detector.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = types.AudioLevels{RMS: MinDB, Peak: MinDB}
}

// Levels returns the most recent level measurement.
func (c *Capture) Levels() types.AudioLevels {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// meter updates levels, peak hold, and silence state from one frame.
func (c *Capture) meter(frame []byte) {
	var data LevelData
	ProcessSamples(frame, len(frame), &data)
	levels := CalculateLevels(&data)

	now := time.Now()
	held := c.peak.Update(levels.Peak, now)

	var event SilenceEvent
	if c.silenceCfg != nil {
		event = c.detector.Update(levels.RMS, c.silenceCfg(), now)
	}

	c.mu.Lock()
	c.last = types.AudioLevels{
		RMS:               levels.RMS,
		Peak:              held,
		Silence:           event.InSilence,
		SilenceDurationMs: event.DurationMs,
		SilenceLevel:      event.Level,
		Clip:              levels.Clip,
	}
	c.mu.Unlock()

	if c.onSilence != nil && (event.JustEntered || event.JustRecovered) {
		c.onSilence(event)
	}
}
