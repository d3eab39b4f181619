package server

import (
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-reporter/internal/control"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// Session and volume commands inject the same button events the physical
// control surface produces, so the control loop stays the single owner of
// session state.

// handleSessionStart processes a session/start command.
func (h *CommandHandler) handleSessionStart(cmd WSCommand, send chan<- any) {
	if h.ctrl.Recording() {
		SendError(send, cmd.Type, fmt.Errorf("session already active"))
		return
	}

	slog.Info("session/start: injecting record press")
	h.ctrl.Bus().Publish(control.ButtonEvent(types.ButtonRecord, types.Pressed))
	SendSuccess(send, cmd.Type, nil)
}

// handleSessionStop processes a session/stop command.
func (h *CommandHandler) handleSessionStop(cmd WSCommand, send chan<- any) {
	if !h.ctrl.Recording() {
		SendError(send, cmd.Type, fmt.Errorf("no active session"))
		return
	}

	slog.Info("session/stop: injecting record release")
	h.ctrl.Bus().Publish(control.ButtonEvent(types.ButtonRecord, types.Released))
	SendSuccess(send, cmd.Type, nil)
}

// handleVolumeAdjust processes a volume/adjust command.
func (h *CommandHandler) handleVolumeAdjust(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *VolumeRequest) error {
		button := types.ButtonVolumeUp
		if req.Direction == "down" {
			button = types.ButtonVolumeDown
		}
		h.ctrl.Bus().Publish(control.ButtonEvent(button, types.Pressed))
		return nil
	})
}
