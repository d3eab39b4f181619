package audio

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// SilenceConfig holds the configurable thresholds for silence detection.
type SilenceConfig struct {
	Threshold  float64 // dB level below which audio is considered silent
	DurationMs int64   // milliseconds of silence before triggering
	RecoveryMs int64   // milliseconds of audio before considering recovered
}

// SilenceEvent represents the result of a silence detection update.
type SilenceEvent struct {
	InSilence  bool               // Currently in confirmed silence state
	DurationMs int64              // Current silence duration in ms (0 if not silent)
	Level      types.SilenceLevel // "active" when in silence, "" otherwise

	CurrentLevel float64 // Current input level in dB

	JustEntered     bool  // True on the frame when silence is first confirmed
	JustRecovered   bool  // True on the frame when recovery completes
	TotalDurationMs int64 // Total silence duration in ms (only set when JustRecovered)
}

// SilenceDetector tracks silence state with hysteresis on both edges: the
// level must stay below the threshold for DurationMs before silence is
// confirmed, and back above it for RecoveryMs before the condition clears.
// It is safe for concurrent use.
type SilenceDetector struct {
	mu            sync.Mutex
	belowSince    time.Time // start of the current below-threshold stretch
	aboveSince    time.Time // start of the current above-threshold stretch during silence
	confirmed     bool      // silence confirmed (past DurationMs)
	trackedSpanMs int64     // below-threshold span, reported on recovery
}

// NewSilenceDetector creates a new silence detector.
func NewSilenceDetector() *SilenceDetector {
	return &SilenceDetector{}
}

// Update feeds one level measurement and returns the resulting state.
func (d *SilenceDetector) Update(db float64, cfg SilenceConfig, now time.Time) SilenceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	event := SilenceEvent{CurrentLevel: db}
	if db < cfg.Threshold {
		d.updateBelow(&event, cfg, now)
	} else {
		d.updateAbove(&event, cfg, now)
	}
	return event
}

// updateBelow advances the below-threshold stretch, confirming silence once
// it outlasts the configured duration.
func (d *SilenceDetector) updateBelow(event *SilenceEvent, cfg SilenceConfig, now time.Time) {
	d.aboveSince = time.Time{}
	if d.belowSince.IsZero() {
		d.belowSince = now
	}

	spanMs := now.Sub(d.belowSince).Milliseconds()
	d.trackedSpanMs = spanMs

	if !d.confirmed {
		if spanMs < cfg.DurationMs {
			return
		}
		d.confirmed = true
		event.JustEntered = true
	}

	event.InSilence = true
	event.DurationMs = spanMs
	event.Level = types.SilenceLevelActive
}

// updateAbove advances the recovery stretch while silence is confirmed.
func (d *SilenceDetector) updateAbove(event *SilenceEvent, cfg SilenceConfig, now time.Time) {
	if !d.confirmed {
		// Brief dips below threshold reset without ever confirming.
		d.belowSince = time.Time{}
		return
	}

	if d.aboveSince.IsZero() {
		d.aboveSince = now
	}

	if now.Sub(d.aboveSince).Milliseconds() < cfg.RecoveryMs {
		// Audio is back but not yet long enough to call it recovered.
		event.InSilence = true
		event.Level = types.SilenceLevelActive
		return
	}

	event.JustRecovered = true
	event.TotalDurationMs = d.trackedSpanMs
	d.reset()
}

// Reset clears the silence detection state.
func (d *SilenceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *SilenceDetector) reset() {
	d.belowSince = time.Time{}
	d.aboveSince = time.Time{}
	d.confirmed = false
	d.trackedSpanMs = 0
}
