package pipeline

import (
	"context"
	"fmt"
)

// State represents the lifecycle state of a stage.
type State string

const (
	// StateIdle indicates the stage has never run or was reset.
	StateIdle State = "idle"
	// StateRunning indicates the stage's process loop is active.
	StateRunning State = "running"
	// StatePaused indicates the stage is temporarily suspended.
	StatePaused State = "paused"
	// StateStopped indicates the stage ceased on request.
	StateStopped State = "stopped"
	// StateFinished indicates the stage completed after its input drained.
	StateFinished State = "finished"
	// StateError indicates the stage failed; Status carries the reason.
	StateError State = "error"
)

// IsActive reports whether the state counts as running for lifecycle checks.
func (s State) IsActive() bool {
	return s == StateRunning || s == StatePaused
}

// IsTerminal reports whether the stage completed cleanly.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFinished
}

// ErrorStatus classifies a stage failure. It is meaningful only while the
// stage is in StateError.
type ErrorStatus string

const (
	// StatusOpen indicates a failure while opening the stage's resource,
	// typically connectivity for the upload stage.
	StatusOpen ErrorStatus = "open"
	// StatusInput indicates a failure reading from the input buffer.
	StatusInput ErrorStatus = "input"
	// StatusProcess indicates a failure inside the stage's own processing.
	StatusProcess ErrorStatus = "process"
	// StatusOutput indicates a failure writing to the output buffer or sink.
	StatusOutput ErrorStatus = "output"
	// StatusClose indicates a failure while closing the stage's resource.
	StatusClose ErrorStatus = "close"
	// StatusTimeout indicates the stage exceeded an internal deadline.
	StatusTimeout ErrorStatus = "timeout"
	// StatusUnknown covers unclassified failures.
	StatusUnknown ErrorStatus = "unknown"
)

// StatusError wraps a stage failure with its classification so the engine
// can report a status alongside the error state.
type StatusError struct {
	Status ErrorStatus
	Err    error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("stage %s error: %v", e.Status, e.Err)
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError wraps err with the given classification.
func NewStatusError(status ErrorStatus, err error) *StatusError {
	return &StatusError{Status: status, Err: err}
}

// Stage is one processing unit in a pipeline chain. Process moves frames
// from in to out until the context is canceled or the input drains; it
// returns nil after a clean drain, the context error on cancellation, and a
// StatusError on failure. in is nil for the first stage in the chain and
// out is nil for the last. Reset clears internal counters so a later run
// starts from the same state as a fresh stage.
type Stage interface {
	Process(ctx context.Context, in, out *Ringbuffer) error
	Reset()
}

// Event is a stage transition published by the engine.
type Event struct {
	Tag    string      // Stage registration tag
	State  State       // New lifecycle state
	Status ErrorStatus // Failure classification, set only for StateError
}
