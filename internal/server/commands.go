package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-reporter/internal/config"
	"github.com/oszuidwest/zwfm-reporter/internal/control"
	"github.com/oszuidwest/zwfm-reporter/internal/eventlog"
	"github.com/oszuidwest/zwfm-reporter/internal/notify"
)

// MaxLogEntries is the default number of event log entries returned per page.
const MaxLogEntries = 100

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	ctrl     *control.Controller
	notifier *notify.Notifier
	events   *eventlog.Logger
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, ctrl *control.Controller, notifier *notify.Notifier, events *eventlog.Logger) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		ctrl:     ctrl,
		notifier: notifier,
		events:   events,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "session/start", "audio/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	// Parse command into namespace and action
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "session":
		h.handleSession(action, cmd, send)
	case "volume":
		h.handleVolume(action, cmd, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "upload":
		h.handleUpload(action, cmd, send)
	case "silence":
		h.handleSilence(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "eventlog":
		h.handleEventLog(action, cmd, send)
	case "config":
		h.handleConfig(action, send)
	case "status":
		h.handleStatus(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleSession routes session/* commands
func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.handleSessionStart(cmd, send)
	case "stop":
		h.handleSessionStop(cmd, send)
	default:
		slog.Warn("unknown session action", "action", action)
	}
}

// handleVolume routes volume/* commands
func (h *CommandHandler) handleVolume(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "adjust":
		h.handleVolumeAdjust(cmd, send)
	default:
		slog.Warn("unknown volume action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	case "get":
		h.handleAudioGet(send)
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleUpload routes upload/* commands
func (h *CommandHandler) handleUpload(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleUploadUpdate(cmd, send)
	case "get":
		h.handleUploadGet(send)
	default:
		slog.Warn("unknown upload action", "action", action)
	}
}

// handleSilence routes silence/* commands
func (h *CommandHandler) handleSilence(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleSilenceUpdate(cmd, send)
	case "get":
		h.handleSilenceGet(send)
	default:
		slog.Warn("unknown silence action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_webhook")
		case "get":
			h.handleWebhookGet(send)
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_email")
		case "get":
			h.handleEmailGet(send)
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleEventLog routes eventlog/* commands
func (h *CommandHandler) handleEventLog(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		h.handleEventLogView(cmd, send)
	default:
		slog.Warn("unknown eventlog action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(send)
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, send chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
