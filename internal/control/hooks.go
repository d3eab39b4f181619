package control

import (
	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// Hooks receives lifecycle notifications from the control loop. Calls are
// made from the loop goroutine; implementations that do slow work must hand
// it off themselves.
type Hooks interface {
	// SessionStarted fires after the pipeline is running for a new session.
	SessionStarted(rec types.SessionRecord, endpoint string)
	// SessionEnded fires after the recovery path closed a session.
	SessionEnded(rec types.SessionRecord)
	// StreamError fires when a stage reports an error status, before recovery.
	StreamError(status pipeline.ErrorStatus)
	// RecoveryPerformed fires after every recovery pass. dirty reports
	// whether a stop sequence was actually necessary.
	RecoveryPerformed(dirty bool)
	// VolumeChanged fires when a button press moved the volume level.
	VolumeChanged(level int)
}

// NopHooks implements Hooks with no-ops. Embed it to implement a subset.
type NopHooks struct{}

// SessionStarted implements Hooks.
func (NopHooks) SessionStarted(types.SessionRecord, string) {}

// SessionEnded implements Hooks.
func (NopHooks) SessionEnded(types.SessionRecord) {}

// StreamError implements Hooks.
func (NopHooks) StreamError(pipeline.ErrorStatus) {}

// RecoveryPerformed implements Hooks.
func (NopHooks) RecoveryPerformed(bool) {}

// VolumeChanged implements Hooks.
func (NopHooks) VolumeChanged(int) {}

// MultiHooks fans one notification out to several receivers in order.
type MultiHooks []Hooks

// SessionStarted implements Hooks.
func (m MultiHooks) SessionStarted(rec types.SessionRecord, endpoint string) {
	for _, h := range m {
		h.SessionStarted(rec, endpoint)
	}
}

// SessionEnded implements Hooks.
func (m MultiHooks) SessionEnded(rec types.SessionRecord) {
	for _, h := range m {
		h.SessionEnded(rec)
	}
}

// StreamError implements Hooks.
func (m MultiHooks) StreamError(status pipeline.ErrorStatus) {
	for _, h := range m {
		h.StreamError(status)
	}
}

// RecoveryPerformed implements Hooks.
func (m MultiHooks) RecoveryPerformed(dirty bool) {
	for _, h := range m {
		h.RecoveryPerformed(dirty)
	}
}

// VolumeChanged implements Hooks.
func (m MultiHooks) VolumeChanged(level int) {
	for _, h := range m {
		h.VolumeChanged(level)
	}
}
