package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// Webhook event identifiers.
const (
	EventSilenceDetected  = "silence_detected"
	EventSilenceRecovered = "silence_recovered"
	EventStreamFailure    = "stream_failure"
	EventSessionStarted   = "session_started"
	EventSessionEnded     = "session_ended"
	EventTest             = "test"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event             string  `json:"event"`
	SilenceDurationMs int64   `json:"silence_duration_ms,omitempty"`
	LevelDB           float64 `json:"level_db,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	Status            string  `json:"status,omitempty"`
	SessionID         string  `json:"session_id,omitempty"`
	BytesSent         int64   `json:"bytes_sent,omitempty"`
	Result            string  `json:"result,omitempty"`
	Message           string  `json:"message,omitempty"`
	Timestamp         string  `json:"timestamp"`
}

// SendSilenceWebhook notifies the configured webhook of confirmed silence.
func SendSilenceWebhook(webhookURL string, level, threshold float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventSilenceDetected,
		LevelDB:   level,
		Threshold: threshold,
		Timestamp: timestampUTC(),
	})
}

// SendRecoveryWebhook notifies the configured webhook that audio recovered.
func SendRecoveryWebhook(webhookURL string, durationMs int64, level, threshold float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:             EventSilenceRecovered,
		SilenceDurationMs: durationMs,
		LevelDB:           level,
		Threshold:         threshold,
		Timestamp:         timestampUTC(),
	})
}

// SendStreamFailureWebhook notifies the configured webhook of a failed upload stream.
func SendStreamFailureWebhook(webhookURL, status string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventStreamFailure,
		Status:    status,
		Timestamp: timestampUTC(),
	})
}

// SendSessionWebhook notifies the configured webhook of a session transition.
func SendSessionWebhook(webhookURL, event, sessionID string, bytesSent int64, result string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     event,
		SessionID: sessionID,
		BytesSent: bytesSent,
		Result:    result,
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL, stationName string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventTest,
		Message:   "This is a test notification from " + stationName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10000 * time.Millisecond}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
