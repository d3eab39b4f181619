package server

import (
	"log/slog"
)

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command. The new input takes
// effect when the next session opens its capture source.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AudioUpdateRequest) error {
		if req.Input == "" {
			return nil // No change requested
		}

		slog.Info("audio/update: changing audio input", "input", req.Input)
		return h.cfg.SetAudioInput(req.Input)
	})
}

// handleAudioGet sends the current audio input selection.
func (h *CommandHandler) handleAudioGet(send chan<- any) {
	SendSuccess(send, "audio/get", map[string]string{
		"input": h.cfg.AudioInput(),
	})
}

// --- Upload handlers ---

// handleUploadUpdate processes an upload/update command.
func (h *CommandHandler) handleUploadUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *UploadUpdateRequest) error {
		if req.CollectorURL != "" {
			if err := h.cfg.SetCollectorURL(req.CollectorURL); err != nil {
				return err
			}
		}
		if req.APIKey != nil {
			if err := h.cfg.SetUploadAPIKey(*req.APIKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// handleUploadGet sends the current upload destination.
func (h *CommandHandler) handleUploadGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, "upload/get", map[string]any{
		"collector_url":      snap.CollectorURL,
		"api_key_configured": snap.UploadAPIKey != "",
	})
}

// --- Silence detection handlers ---

// handleSilenceUpdate processes a silence/update command. The capture stage
// reads silence thresholds through a config snapshot, so changes apply to
// the running detector without a restart.
func (h *CommandHandler) handleSilenceUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *SilenceUpdateRequest) error {
		if req.ThresholdDB != nil {
			if err := h.cfg.SetSilenceThreshold(*req.ThresholdDB); err != nil {
				return err
			}
		}
		if req.DurationMs != nil {
			if err := h.cfg.SetSilenceDurationMs(*req.DurationMs); err != nil {
				return err
			}
		}
		if req.RecoveryMs != nil {
			if err := h.cfg.SetSilenceRecoveryMs(*req.RecoveryMs); err != nil {
				return err
			}
		}
		return nil
	})
}

// handleSilenceGet sends the current silence detection settings.
func (h *CommandHandler) handleSilenceGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, "silence/get", map[string]any{
		"threshold_db": snap.SilenceThreshold,
		"duration_ms":  snap.SilenceDurationMs,
		"recovery_ms":  snap.SilenceRecoveryMs,
	})
}

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleWebhookGet sends the current webhook URL.
func (h *CommandHandler) handleWebhookGet(send chan<- any) {
	SendSuccess(send, "notifications/webhook/get", map[string]string{
		"url": h.cfg.Snapshot().WebhookURL,
	})
}

// handleEmailUpdate processes a notifications/email/update command.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.SetGraphConfig(
			req.TenantID,
			req.ClientID,
			req.ClientSecret,
			req.FromAddress,
			req.Recipients,
		); err != nil {
			return err
		}
		h.notifier.InvalidateGraphClient()
		return nil
	})
}

// handleEmailGet sends the current Graph email settings without the secret.
func (h *CommandHandler) handleEmailGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, "notifications/email/get", map[string]any{
		"tenant_id":         snap.GraphTenantID,
		"client_id":         snap.GraphClientID,
		"secret_configured": snap.GraphClientSecret != "",
		"from_address":      snap.GraphFromAddress,
		"recipients":        snap.GraphRecipients,
	})
}
