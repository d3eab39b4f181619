package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-reporter/internal/eventlog"
	"github.com/oszuidwest/zwfm-reporter/internal/notify"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// runTest dispatches to the appropriate notification test.
func (h *CommandHandler) runTest(testType string) error {
	snap := h.cfg.Snapshot()
	switch testType {
	case "webhook":
		return notify.SendTestWebhook(snap.WebhookURL, snap.StationName)
	case "email":
		return notify.SendTestEmail(notify.BuildGraphConfig(snap), snap.StationName)
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a notification test and sends the result to the client.
// testCmd should be in format "test_<type>" (e.g., "test_email", "test_webhook").
func (h *CommandHandler) handleTest(send chan<- any, testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "command", testCmd, "panic", r)
			}
		}()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(testType); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		// Send via channel (non-blocking to prevent goroutine leak if channel is closed)
		select {
		case send <- result:
		default:
			slog.Warn("failed to send test response: channel full or closed", "command", testCmd)
		}
	}()
}

// handleEventLogView reads and returns recent event log entries.
func (h *CommandHandler) handleEventLogView(cmd WSCommand, send chan<- any) {
	var req EventLogViewRequest
	if len(cmd.Data) > 0 && !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = MaxLogEntries
	}
	filter := eventlog.FilterAll
	if req.Filter != "" && req.Filter != "all" {
		filter = eventlog.TypeFilter(req.Filter)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in event log handler", "panic", r)
			}
		}()

		result := types.WSEventLogResult{
			Type:    "eventlog_result",
			Success: true,
		}

		entries, hasMore, err := eventlog.ReadLast(h.events.Path(), req.Limit, req.Offset, filter)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		} else {
			result.HasMore = hasMore
			result.Entries = make([]any, len(entries))
			for i := range entries {
				result.Entries[i] = entries[i]
			}
		}

		select {
		case send <- result:
		default:
			slog.Warn("failed to send event log response: channel full or closed")
		}
	}()
}

// handleConfigGet sends the configuration relevant to the frontend, with
// secrets reduced to presence flags.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	SendData(send, types.WSConfigResponse{
		Type: "config",
		Config: map[string]any{
			"station_name":  snap.StationName,
			"audio_input":   snap.AudioInput,
			"volume":        snap.Volume,
			"collector_url": snap.CollectorURL,
			"upload_key":    snap.UploadAPIKey != "",
			"silence": map[string]any{
				"threshold_db": snap.SilenceThreshold,
				"duration_ms":  snap.SilenceDurationMs,
				"recovery_ms":  snap.SilenceRecoveryMs,
			},
			"webhook_url": snap.WebhookURL,
			"graph": map[string]any{
				"tenant_id":         snap.GraphTenantID,
				"client_id":         snap.GraphClientID,
				"secret_configured": snap.GraphClientSecret != "",
				"from_address":      snap.GraphFromAddress,
				"recipients":        snap.GraphRecipients,
			},
		},
	})
}
