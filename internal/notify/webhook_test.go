package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func captureWebhook(t *testing.T) (*httptest.Server, *[]WebhookPayload) {
	t.Helper()
	var received []WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var p WebhookPayload
		require.NoError(t, json.Unmarshal(body, &p))
		received = append(received, p)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestSendSilenceWebhook(t *testing.T) {
	srv, received := captureWebhook(t)

	require.NoError(t, SendSilenceWebhook(srv.URL, -52.3, -40.0))

	require.Len(t, *received, 1)
	p := (*received)[0]
	require.Equal(t, EventSilenceDetected, p.Event)
	require.InDelta(t, -52.3, p.LevelDB, 0.001)
	require.InDelta(t, -40.0, p.Threshold, 0.001)
	require.NotEmpty(t, p.Timestamp)
}

func TestSendRecoveryWebhook(t *testing.T) {
	srv, received := captureWebhook(t)

	require.NoError(t, SendRecoveryWebhook(srv.URL, 15000, -18.0, -40.0))

	require.Len(t, *received, 1)
	p := (*received)[0]
	require.Equal(t, EventSilenceRecovered, p.Event)
	require.Equal(t, int64(15000), p.SilenceDurationMs)
}

func TestSendSessionWebhook(t *testing.T) {
	srv, received := captureWebhook(t)

	require.NoError(t, SendSessionWebhook(srv.URL, EventSessionEnded, "a1b2c3d4", 4096, "completed"))

	require.Len(t, *received, 1)
	p := (*received)[0]
	require.Equal(t, EventSessionEnded, p.Event)
	require.Equal(t, "a1b2c3d4", p.SessionID)
	require.Equal(t, int64(4096), p.BytesSent)
	require.Equal(t, "completed", p.Result)
}

func TestSendWebhookSkipsWhenUnconfigured(t *testing.T) {
	require.NoError(t, SendStreamFailureWebhook("", "open"))
}

func TestSendWebhookReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := SendStreamFailureWebhook(srv.URL, "open")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
