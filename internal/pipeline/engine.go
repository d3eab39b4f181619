package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

// DefaultStopTimeout bounds how long Deinit waits for stages to cease.
const DefaultStopTimeout = 5 * time.Second

// Engine operation errors.
var (
	ErrAlreadyLinked = errors.New("pipeline already linked")
	ErrNotLinked     = errors.New("pipeline not linked")
	ErrDuplicateTag  = errors.New("stage tag already registered")
	ErrUnknownTag    = errors.New("unknown stage tag")
	ErrTooFewStages  = errors.New("link requires at least two stages")
	ErrRunning       = errors.New("pipeline has active stages")
	ErrStopTimeout   = errors.New("timed out waiting for stages to stop")
	ErrNoOutput      = errors.New("stage has no output buffer")
)

// handle wraps a registered stage with its engine-owned lifecycle state.
// Stages never transition themselves; all state changes go through the
// engine.
type handle struct {
	tag    string
	stage  Stage
	state  State
	status ErrorStatus
	exited chan struct{} // closed when the current run goroutine returns
}

// Pipeline owns an ordered chain of stages connected by ringbuffers.
// Operations are safe for concurrent use; stage transitions are published
// to the notify callback in the order they occur.
type Pipeline struct {
	mu      sync.Mutex
	stages  map[string]*handle
	order   []string
	buffers []*Ringbuffer
	linked  bool
	cancel  context.CancelFunc
	notify  func(Event)
}

// New returns an empty pipeline. notify receives stage transition events
// and may be nil.
func New(notify func(Event)) *Pipeline {
	return &Pipeline{
		stages: make(map[string]*handle),
		notify: notify,
	}
}

// Register attaches a stage under a unique tag. It fails once the pipeline
// has been linked.
func (p *Pipeline) Register(tag string, stage Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.linked {
		return ErrAlreadyLinked
	}
	if _, exists := p.stages[tag]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}

	p.stages[tag] = &handle{tag: tag, stage: stage, state: StateIdle}
	return nil
}

// Unregister detaches a stage. It fails while any stage is active, and
// dissolves the link since the chain is no longer intact.
func (p *Pipeline) Unregister(tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.anyActiveLocked() {
		return ErrRunning
	}
	if _, exists := p.stages[tag]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}

	delete(p.stages, tag)
	p.order = nil
	p.buffers = nil
	p.linked = false
	return nil
}

// Link establishes the ordered chain and creates the transport buffers.
// Every tag must be registered and the sequence needs at least two stages.
func (p *Pipeline) Link(tags ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.linked {
		return ErrAlreadyLinked
	}
	if len(tags) < 2 {
		return ErrTooFewStages
	}
	for i, tag := range tags {
		if _, exists := p.stages[tag]; !exists {
			return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
		}
		if slices.Index(tags[:i], tag) != -1 {
			return fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
		}
	}

	p.order = slices.Clone(tags)
	p.buffers = make([]*Ringbuffer, len(tags)-1)
	for i := range p.buffers {
		p.buffers[i] = NewRingbuffer(DefaultRingbufferCapacity)
	}
	p.linked = true
	return nil
}

// Run starts every stage in link order, producer first. It returns
// immediately once all stage goroutines are launched; stages operate
// independently until they drain, fail, or Stop is called.
func (p *Pipeline) Run() error {
	p.mu.Lock()
	if !p.linked {
		p.mu.Unlock()
		return ErrNotLinked
	}
	if p.anyActiveLocked() {
		p.mu.Unlock()
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	type launch struct {
		h       *handle
		in, out *Ringbuffer
	}
	launches := make([]launch, 0, len(p.order))
	for i, tag := range p.order {
		h := p.stages[tag]
		h.state = StateRunning
		h.status = ""
		h.exited = make(chan struct{})

		var in, out *Ringbuffer
		if i > 0 {
			in = p.buffers[i-1]
		}
		if i < len(p.buffers) {
			out = p.buffers[i]
		}
		launches = append(launches, launch{h: h, in: in, out: out})
	}
	p.mu.Unlock()

	// Publish all transitions in link order before any stage starts so a
	// restart after Terminate reproduces the same startup sequence.
	for _, l := range launches {
		p.publish(Event{Tag: l.h.tag, State: StateRunning})
	}
	for _, l := range launches {
		go p.runStage(ctx, l.h, l.in, l.out)
	}
	return nil
}

// runStage executes one stage's process loop and records its terminal state.
func (p *Pipeline) runStage(ctx context.Context, h *handle, in, out *Ringbuffer) {
	err := h.stage.Process(ctx, in, out)

	p.mu.Lock()
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, ErrDone):
		h.state = StateFinished
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.state = StateStopped
	default:
		h.state = StateError
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			h.status = statusErr.Status
		} else {
			h.status = StatusUnknown
		}
	}
	event := Event{Tag: h.tag, State: h.state, Status: h.status}
	p.mu.Unlock()

	p.publish(event)

	// A cleanly finished stage exhausts its output so downstream drains
	// instead of blocking forever. The terminal event is published first to
	// keep the event order matching the data flow.
	if event.State == StateFinished && out != nil {
		out.SetDone()
	}

	close(h.exited)
}

// Stop requests every stage to cease and returns immediately. It is a
// no-op when nothing is running.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// WaitForStop blocks until every stage of the current run has reached a
// terminal state, bounded by timeout.
func (p *Pipeline) WaitForStop(timeout time.Duration) error {
	p.mu.Lock()
	exited := make([]chan struct{}, 0, len(p.stages))
	for _, h := range p.stages {
		if h.exited != nil {
			exited = append(exited, h.exited)
		}
	}
	p.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, ch := range exited {
		select {
		case <-ch:
		case <-deadline.C:
			return ErrStopTimeout
		}
	}
	return nil
}

// Terminate releases the transport buffers and resets stage internal state
// without detaching any stage, so a later Run reproduces a fresh startup.
// It fails while any stage is active.
func (p *Pipeline) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.anyActiveLocked() {
		return ErrRunning
	}

	for _, rb := range p.buffers {
		rb.Reset()
	}
	for _, h := range p.stages {
		h.stage.Reset()
		h.state = StateIdle
		h.status = ""
		h.exited = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}

// ResetRingbuffer clears all transport buffers. Valid only while no stage
// is running or paused.
func (p *Pipeline) ResetRingbuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.anyActiveLocked() {
		return ErrRunning
	}
	for _, rb := range p.buffers {
		rb.Reset()
	}
	return nil
}

// ResetElements returns every stage to idle and clears internal counters.
// Valid only while no stage is running or paused.
func (p *Pipeline) ResetElements() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.anyActiveLocked() {
		return ErrRunning
	}
	for _, h := range p.stages {
		h.stage.Reset()
		h.state = StateIdle
		h.status = ""
	}
	return nil
}

// Deinit stops the pipeline, waits briefly for stages to cease, and
// releases every stage and buffer.
func (p *Pipeline) Deinit() error {
	p.Stop()
	err := p.WaitForStop(DefaultStopTimeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.stages = make(map[string]*handle)
	p.order = nil
	p.buffers = nil
	p.linked = false
	return err
}

// SetDone marks the output buffer of the named stage as exhausted. Used by
// the recovery path to unblock a consumer starved of input.
func (p *Pipeline) SetDone(tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.Index(p.order, tag)
	if i == -1 {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	if i >= len(p.buffers) {
		return fmt.Errorf("%w: %s", ErrNoOutput, tag)
	}
	p.buffers[i].SetDone()
	return nil
}

// State returns the current lifecycle state of the named stage.
func (p *Pipeline) State(tag string) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, exists := p.stages[tag]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	return h.state, nil
}

// Status returns the error classification of the named stage. It is
// meaningful only while the stage is in StateError.
func (p *Pipeline) Status(tag string) (ErrorStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, exists := p.stages[tag]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	return h.status, nil
}

// States returns a snapshot of every stage's state. The snapshot is cheap
// and side-effect-free; the recovery path uses it to decide whether a stop
// sequence is necessary.
func (p *Pipeline) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make(map[string]State, len(p.stages))
	for tag, h := range p.stages {
		states[tag] = h.state
	}
	return states
}

// Order returns the link order, producer first. It is empty until Link.
func (p *Pipeline) Order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.order)
}

// Linked reports whether the chain has been established.
func (p *Pipeline) Linked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linked
}

// Running reports whether any stage is running or paused.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anyActiveLocked()
}

// Clean reports whether every stage is idle or terminal and all buffers
// are empty.
func (p *Pipeline) Clean() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range p.stages {
		if h.state.IsActive() || h.state == StateError {
			return false
		}
	}
	for _, rb := range p.buffers {
		if rb.Len() > 0 {
			return false
		}
	}
	return true
}

// anyActiveLocked reports whether any stage is running or paused.
// Caller must hold p.mu.
func (p *Pipeline) anyActiveLocked() bool {
	for _, h := range p.stages {
		if h.state.IsActive() {
			return true
		}
	}
	return false
}

// publish delivers a stage event to the notify callback.
func (p *Pipeline) publish(event Event) {
	if p.notify != nil {
		p.notify(event)
	}
}
