package streaming

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
)

// captureHandler records one upload request.
type captureHandler struct {
	mu     sync.Mutex
	body   []byte
	header http.Header
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)

	h.mu.Lock()
	h.body = body
	h.header = r.Header.Clone()
	h.mu.Unlock()

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *captureHandler) received() ([]byte, http.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.body, h.header
}

// fixedProducer writes its frames and finishes, draining downstream.
type fixedProducer struct {
	frames [][]byte
}

func (p *fixedProducer) Process(ctx context.Context, in, out *pipeline.Ringbuffer) error {
	for _, frame := range p.frames {
		if err := out.Write(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (p *fixedProducer) Reset() {}

func TestUploadEndToEnd(t *testing.T) {
	handler := &captureHandler{}
	server := httptest.NewServer(handler)
	defer server.Close()

	frames := [][]byte{
		bytes.Repeat([]byte{0x01}, 1600),
		bytes.Repeat([]byte{0x02}, 1600),
		[]byte("tail"),
	}
	var want bytes.Buffer
	for _, f := range frames {
		want.Write(f)
	}

	upload := NewUpload()
	upload.SetEndpoint(server.URL+"/api/audio", "test-key")

	pipe := pipeline.New(nil)
	require.NoError(t, pipe.Register("capture", &fixedProducer{frames: frames}))
	require.NoError(t, pipe.Register("upload", upload))
	require.NoError(t, pipe.Link("capture", "upload"))
	require.NoError(t, pipe.Run())
	require.NoError(t, pipe.WaitForStop(5*time.Second))

	state, err := pipe.State("upload")
	require.NoError(t, err)
	require.Equal(t, pipeline.StateFinished, state)

	body, header := handler.received()
	require.Equal(t, want.Bytes(), body, "collector sees payload bytes concatenated in arrival order")
	require.Equal(t, "audio/pcm", header.Get("Content-Type"))
	require.Equal(t, "16000", header.Get(HeaderSampleRates))
	require.Equal(t, "16", header.Get(HeaderBits))
	require.Equal(t, "1", header.Get(HeaderChannel))
	require.Equal(t, "test-key", header.Get(HeaderAPIKey))

	require.Equal(t, int64(want.Len()), upload.BytesSent())
	upload.Reset()
	require.Zero(t, upload.BytesSent())
}

func TestUploadUnreachableEndpointIsOpenError(t *testing.T) {
	upload := NewUpload()
	// Reserved TEST-NET address, nothing listens there.
	upload.SetEndpoint("http://192.0.2.1:9/api/audio", "")

	client := Client{Endpoint: upload.Endpoint(), Timeout: 200 * time.Millisecond}
	_, err := client.Open(context.Background(), Format{SampleRate: 16000, BitsPerSample: 16, Channels: 1})
	require.Error(t, err)
}

func TestUploadWithoutEndpointFails(t *testing.T) {
	upload := NewUpload()

	pipe := pipeline.New(nil)
	require.NoError(t, pipe.Register("capture", &fixedProducer{frames: [][]byte{[]byte("x")}}))
	require.NoError(t, pipe.Register("upload", upload))
	require.NoError(t, pipe.Link("capture", "upload"))
	require.NoError(t, pipe.Run())
	require.NoError(t, pipe.WaitForStop(5*time.Second))

	state, err := pipe.State("upload")
	require.NoError(t, err)
	require.Equal(t, pipeline.StateError, state)

	status, err := pipe.Status("upload")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusOpen, status)
}
