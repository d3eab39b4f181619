package streaming

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-reporter/internal/audio"
	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// Upload is the consumer stage of the streaming pipeline. Each run opens
// one exchange against the configured collector, drains the transport
// buffer into it, and closes the exchange with the terminal chunk once the
// producer signals completion.
type Upload struct {
	mu     sync.Mutex
	client Client

	bytes atomic.Int64
}

// NewUpload returns an upload stage with no endpoint configured. Running
// it before SetEndpoint fails with an open error, which the control loop
// recovers from like any other connectivity failure.
func NewUpload() *Upload {
	return &Upload{}
}

// SetEndpoint configures the collector target for the next run.
func (u *Upload) SetEndpoint(endpoint, apiKey string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.client.Endpoint = endpoint
	u.client.APIKey = apiKey
}

// Endpoint returns the configured collector URL.
func (u *Upload) Endpoint() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.client.Endpoint
}

// BytesSent returns the payload bytes accepted in the current run.
func (u *Upload) BytesSent() int64 {
	return u.bytes.Load()
}

// Process implements pipeline.Stage.
func (u *Upload) Process(ctx context.Context, in, out *pipeline.Ringbuffer) error {
	u.mu.Lock()
	client := u.client
	u.mu.Unlock()

	format := Format{
		SampleRate:    audio.SampleRate,
		BitsPerSample: audio.BitsPerSample,
		Channels:      audio.Channels,
	}
	exchange, err := client.Open(ctx, format)
	if err != nil {
		return pipeline.NewStatusError(pipeline.StatusOpen, err)
	}
	defer util.SafeCloseFunc(exchange, "upload connection")()

	for {
		frame, err := in.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Cancellation without the done mark abandons the exchange.
			// A normal stop marks the producer done first, so this run
			// drains to EOF and closes with the terminal chunk below.
			return err
		}

		if _, werr := exchange.WriteFrame(frame); werr != nil {
			return pipeline.NewStatusError(pipeline.StatusOutput, werr)
		}
		u.bytes.Store(exchange.BytesSent())
	}

	if err := exchange.Finish(); err != nil {
		return pipeline.NewStatusError(pipeline.StatusOutput, err)
	}
	return nil
}

// Reset implements pipeline.Stage. The endpoint survives resets; only the
// per-run byte counter clears.
func (u *Upload) Reset() {
	u.bytes.Store(0)
}
