package collector

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *Storage) {
	t.Helper()
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	cfg := &Config{
		Port:          8000,
		RecordingsDir: storage.Dir(),
		APIKey:        apiKey,
		StorageMode:   types.StorageLocal,
	}
	return NewServer(cfg, storage, nil), storage
}

func TestAudioUploadStoresPayloadAndAcks(t *testing.T) {
	srv, storage := newTestServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	payload := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 8000)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/audio", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "audio/pcm")
	req.Header.Set("x-audio-sample-rates", "16000")
	req.Header.Set("x-audio-bits", "16")
	req.Header.Set("x-audio-channel", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack UploadAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.Equal(t, "ok", ack.Status)
	require.Equal(t, int64(len(payload)), ack.SizeBytes)
	require.Equal(t, 16000, ack.SampleRate)
	require.Equal(t, 16, ack.BitsPerSample)
	require.Equal(t, 1, ack.Channels)
	// 32000 bytes = 1 second at 16 kHz 16-bit mono
	require.InDelta(t, 1.0, ack.DurationSeconds, 0.001)

	stored, err := os.ReadFile(filepath.Join(storage.Dir(), ack.Filename))
	require.NoError(t, err)
	require.Equal(t, payload, stored)
}

func TestAudioUploadDefaultsMetadataHeaders(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/audio", "audio/pcm", bytes.NewReader(make([]byte, 32000)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var ack UploadAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.Equal(t, 16000, ack.SampleRate)
	require.Equal(t, 16, ack.BitsPerSample)
	require.Equal(t, 1, ack.Channels)
	require.InDelta(t, 1.0, ack.DurationSeconds, 0.001)
}

func TestAudioUploadAcceptsChunkedStream(t *testing.T) {
	srv, storage := newTestServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	// Unknown content length forces chunked transfer encoding on the wire.
	pr, pw := io.Pipe()
	go func() {
		pw.Write(bytes.Repeat([]byte{0xAA}, 4096))
		pw.Write(bytes.Repeat([]byte{0xBB}, 4096))
		pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/audio", pr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "audio/pcm")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack UploadAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.Equal(t, int64(8192), ack.SizeBytes)

	stored, err := os.ReadFile(filepath.Join(storage.Dir(), ack.Filename))
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xAA}, 4096), stored[:4096])
	require.Equal(t, bytes.Repeat([]byte{0xBB}, 4096), stored[4096:])
}

func TestAudioUploadRejectsWrongMethod(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/audio")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret-key")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	// Missing key
	resp, err := http.Post(ts.URL+"/api/audio", "audio/pcm", bytes.NewReader([]byte{1}))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong key
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/audio", bytes.NewReader([]byte{1}))
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct key
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/audio", bytes.NewReader([]byte{1}))
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays public
	resp, err = http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthResponse(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, ServiceName, body["service"])
	_, err = time.Parse(time.RFC3339, body["timestamp"])
	require.NoError(t, err)
}

func TestRecordingsListNewestFirst(t *testing.T) {
	srv, storage := newTestServer(t, "")

	for _, name := range []string{
		"recording_20250110_080000.pcm",
		"recording_20250112_090000.pcm",
		"recording_20250111_100000.pcm",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(storage.Dir(), name), []byte("x"), 0o600))
	}
	// Non-recording files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(storage.Dir(), "notes.txt"), []byte("x"), 0o600))

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/recordings")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Recordings []RecordingInfo `json:"recordings"`
		Count      int             `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 3, body.Count)
	require.Equal(t, "recording_20250112_090000.pcm", body.Recordings[0].Filename)
	require.Equal(t, "recording_20250111_100000.pcm", body.Recordings[1].Filename)
	require.Equal(t, "recording_20250110_080000.pcm", body.Recordings[2].Filename)
}
