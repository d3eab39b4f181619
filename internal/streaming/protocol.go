// Package streaming implements the chunked upload protocol that carries
// captured audio from the reporter to the collector: the framing state
// machine, the network client around it, and the pipeline stage driving
// both.
package streaming

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// ErrWrongPhase is returned when a protocol operation is invoked outside
// the phase it belongs to.
var ErrWrongPhase = errors.New("operation not valid in current phase")

// ContentTypePCM is the media type of the upload body.
const ContentTypePCM = "audio/pcm"

// Metadata header names shared with the collector.
const (
	HeaderSampleRates = "x-audio-sample-rates"
	HeaderBits        = "x-audio-bits"
	HeaderChannel     = "x-audio-channel"
	HeaderAPIKey      = "X-API-Key"
)

const userAgent = "zwfm-reporter"

// Format describes the PCM stream announced in the request headers.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// Phase is the position of a Protocol in the upload exchange.
type Phase string

const (
	// PhasePreRequest means the request head has not been written yet.
	PhasePreRequest Phase = "pre_request"
	// PhaseStreaming means payload frames may be written.
	PhaseStreaming Phase = "streaming"
	// PhaseFinished means the terminal chunk has been written.
	PhaseFinished Phase = "finished"
)

// Protocol frames an outbound PCM stream as HTTP chunked transfer encoding
// over any writer. It advances pre-request → streaming → finished; every
// write failure is surfaced to the caller and aborts the exchange. The
// emitted byte stream satisfies a standards-compliant chunked decoder.
type Protocol struct {
	w     io.Writer
	phase Phase
	sent  int64
}

// NewProtocol returns a protocol in the pre-request phase writing to w.
func NewProtocol(w io.Writer) *Protocol {
	return &Protocol{w: w, phase: PhasePreRequest}
}

// Begin writes the request line and header block for target: method POST,
// chunked transfer encoding, the PCM metadata headers, and the API key
// when set. It resets the payload byte counter and enters the streaming
// phase.
func (p *Protocol) Begin(target *url.URL, apiKey string, format Format) error {
	if p.phase != PhasePreRequest {
		return fmt.Errorf("%w: begin in %s", ErrWrongPhase, p.phase)
	}

	var head strings.Builder
	head.WriteString("POST " + target.RequestURI() + " HTTP/1.1\r\n")
	head.WriteString("Host: " + target.Host + "\r\n")
	head.WriteString("User-Agent: " + userAgent + "\r\n")
	head.WriteString("Content-Type: " + ContentTypePCM + "\r\n")
	head.WriteString("Transfer-Encoding: chunked\r\n")
	head.WriteString("Connection: close\r\n")
	head.WriteString(HeaderSampleRates + ": " + strconv.Itoa(format.SampleRate) + "\r\n")
	head.WriteString(HeaderBits + ": " + strconv.Itoa(format.BitsPerSample) + "\r\n")
	head.WriteString(HeaderChannel + ": " + strconv.Itoa(format.Channels) + "\r\n")
	if apiKey != "" {
		head.WriteString(HeaderAPIKey + ": " + apiKey + "\r\n")
	}
	head.WriteString("\r\n")

	if _, err := io.WriteString(p.w, head.String()); err != nil {
		return util.WrapError("write request head", err)
	}

	p.sent = 0
	p.phase = PhaseStreaming
	return nil
}

// WriteFrame emits one chunk: the payload length in lowercase hexadecimal,
// CRLF, the payload bytes, CRLF. It returns the number of payload bytes
// accepted. An empty payload writes nothing, since a zero-length chunk
// would terminate the stream.
func (p *Protocol) WriteFrame(payload []byte) (int, error) {
	if p.phase != PhaseStreaming {
		return 0, fmt.Errorf("%w: write frame in %s", ErrWrongPhase, p.phase)
	}
	if len(payload) == 0 {
		return 0, nil
	}

	if _, err := io.WriteString(p.w, strconv.FormatInt(int64(len(payload)), 16)+"\r\n"); err != nil {
		return 0, util.WrapError("write chunk header", err)
	}
	if _, err := p.w.Write(payload); err != nil {
		return 0, util.WrapError("write chunk payload", err)
	}
	if _, err := io.WriteString(p.w, "\r\n"); err != nil {
		return 0, util.WrapError("write chunk terminator", err)
	}

	p.sent += int64(len(payload))
	return len(payload), nil
}

// End writes the terminal zero-length chunk and enters the finished phase.
// The phase guard makes the terminal chunk impossible to emit twice.
func (p *Protocol) End() error {
	if p.phase != PhaseStreaming {
		return fmt.Errorf("%w: end in %s", ErrWrongPhase, p.phase)
	}

	if _, err := io.WriteString(p.w, "0\r\n\r\n"); err != nil {
		return util.WrapError("write terminal chunk", err)
	}

	p.phase = PhaseFinished
	return nil
}

// BytesSent returns the payload bytes accepted since Begin.
func (p *Protocol) BytesSent() int64 {
	return p.sent
}

// Phase returns the current exchange phase.
func (p *Protocol) Phase() Phase {
	return p.phase
}
