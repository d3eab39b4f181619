package streaming

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http/httputil"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// failWriter fails on the nth write.
type failWriter struct {
	writes int
	failAt int
}

func (w *failWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes == w.failAt {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestBeginWritesRequestHead(t *testing.T) {
	var buf bytes.Buffer
	p := NewProtocol(&buf)

	format := Format{SampleRate: 16000, BitsPerSample: 16, Channels: 1}
	require.NoError(t, p.Begin(mustURL(t, "http://collector:8000/api/audio"), "secret", format))
	require.Equal(t, PhaseStreaming, p.Phase())

	head := buf.String()
	require.True(t, strings.HasPrefix(head, "POST /api/audio HTTP/1.1\r\n"))
	require.Contains(t, head, "Host: collector:8000\r\n")
	require.Contains(t, head, "Content-Type: audio/pcm\r\n")
	require.Contains(t, head, "Transfer-Encoding: chunked\r\n")
	require.Contains(t, head, "x-audio-sample-rates: 16000\r\n")
	require.Contains(t, head, "x-audio-bits: 16\r\n")
	require.Contains(t, head, "x-audio-channel: 1\r\n")
	require.Contains(t, head, "X-API-Key: secret\r\n")
	require.True(t, strings.HasSuffix(head, "\r\n\r\n"))
}

func TestBeginOmitsEmptyAPIKey(t *testing.T) {
	var buf bytes.Buffer
	p := NewProtocol(&buf)

	require.NoError(t, p.Begin(mustURL(t, "http://collector/api/audio"), "", Format{16000, 16, 1}))
	require.NotContains(t, buf.String(), "X-API-Key")
}

func TestWriteFrameEmitsExactChunk(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"short", []byte("abc")},
		{"binary", bytes.Repeat([]byte{0x00, 0xFF}, 100)},
		{"hex boundary", make([]byte, 255)},
		{"multi digit", make([]byte, 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := NewProtocol(&buf)
			require.NoError(t, p.Begin(mustURL(t, "http://c/api/audio"), "", Format{16000, 16, 1}))
			buf.Reset()

			n, err := p.WriteFrame(tt.payload)
			require.NoError(t, err)
			require.Equal(t, len(tt.payload), n, "returns payload bytes accepted, not framed bytes")

			want := fmt.Sprintf("%x\r\n%s\r\n", len(tt.payload), tt.payload)
			require.Equal(t, want, buf.String())
		})
	}
}

func TestWriteFrameSkipsEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	p := NewProtocol(&buf)
	require.NoError(t, p.Begin(mustURL(t, "http://c/api/audio"), "", Format{16000, 16, 1}))
	buf.Reset()

	n, err := p.WriteFrame(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, buf.String(), "a zero-length chunk would terminate the stream")
}

func TestBytesSentCountsPayloadOnly(t *testing.T) {
	var buf bytes.Buffer
	p := NewProtocol(&buf)
	require.NoError(t, p.Begin(mustURL(t, "http://c/api/audio"), "", Format{16000, 16, 1}))

	_, err := p.WriteFrame(make([]byte, 100))
	require.NoError(t, err)
	_, err = p.WriteFrame(make([]byte, 28))
	require.NoError(t, err)

	require.Equal(t, int64(128), p.BytesSent())
}

func TestPhaseGuards(t *testing.T) {
	var buf bytes.Buffer
	p := NewProtocol(&buf)

	_, err := p.WriteFrame([]byte("x"))
	require.ErrorIs(t, err, ErrWrongPhase)
	require.ErrorIs(t, p.End(), ErrWrongPhase)

	require.NoError(t, p.Begin(mustURL(t, "http://c/api/audio"), "", Format{16000, 16, 1}))
	require.ErrorIs(t, p.Begin(mustURL(t, "http://c/api/audio"), "", Format{16000, 16, 1}), ErrWrongPhase)

	require.NoError(t, p.End())
	require.Equal(t, PhaseFinished, p.Phase())

	// The terminal chunk cannot be written twice.
	require.ErrorIs(t, p.End(), ErrWrongPhase)
	_, err = p.WriteFrame([]byte("x"))
	require.ErrorIs(t, err, ErrWrongPhase)
}

func TestWriteFailureAbortsFrame(t *testing.T) {
	// Writes per frame: header, payload, terminator. Fail each in turn;
	// write 1 is the request head.
	for failAt := 2; failAt <= 4; failAt++ {
		w := &failWriter{failAt: failAt}
		p := NewProtocol(w)
		require.NoError(t, p.Begin(mustURL(t, "http://c/api/audio"), "", Format{16000, 16, 1}))

		n, err := p.WriteFrame([]byte("payload"))
		require.Error(t, err)
		require.Zero(t, n)
		require.Zero(t, p.BytesSent())
	}
}

func TestStreamIsValidChunkedEncoding(t *testing.T) {
	var buf bytes.Buffer
	p := NewProtocol(&buf)
	require.NoError(t, p.Begin(mustURL(t, "http://c/api/audio"), "", Format{16000, 16, 1}))
	buf.Reset()

	payloads := [][]byte{
		[]byte("first"),
		bytes.Repeat([]byte{0xAB}, 300),
		[]byte("last"),
	}
	var want bytes.Buffer
	for _, payload := range payloads {
		_, err := p.WriteFrame(payload)
		require.NoError(t, err)
		want.Write(payload)
	}
	require.NoError(t, p.End())
	require.True(t, strings.HasSuffix(buf.String(), "0\r\n\r\n"))

	decoded, err := io.ReadAll(httputil.NewChunkedReader(bufio.NewReader(&buf)))
	require.NoError(t, err, "a standards-compliant chunked decoder must accept the stream")
	require.Equal(t, want.Bytes(), decoded)
}
