package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/audio"
	"github.com/oszuidwest/zwfm-reporter/internal/config"
	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// failureCooldown suppresses repeated stream-failure alerts. A flapping
// collector keeps logging but only alerts once per window.
const failureCooldown = 5 * time.Minute

// Notifier fans operational events out to the configured channels: webhook
// and email via Microsoft Graph. Structured logging always happens at the
// call sites; the notifier only covers the outbound channels.
type Notifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which notifications have been sent for current silence period
	webhookSent bool
	emailSent   bool

	// Cooldown for stream failure alerts
	lastFailureAlert time.Time

	// Cached Graph client for email notifications
	graphClient *GraphClient
}

// NewNotifier returns a Notifier configured with the given config.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *Notifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *Notifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// SessionStarted notifies the webhook of a new capture session.
func (n *Notifier) SessionStarted(rec types.SessionRecord, endpoint string) {
	cfg := n.cfg.Snapshot()
	if !cfg.HasWebhook() {
		return
	}
	go util.LogNotifyResult(
		func() error { return SendSessionWebhook(cfg.WebhookURL, EventSessionStarted, rec.ID, 0, "") },
		"session webhook",
	)
}

// SessionEnded notifies the webhook that a capture session closed.
func (n *Notifier) SessionEnded(rec types.SessionRecord) {
	cfg := n.cfg.Snapshot()
	if !cfg.HasWebhook() {
		return
	}
	go util.LogNotifyResult(
		func() error {
			return SendSessionWebhook(cfg.WebhookURL, EventSessionEnded, rec.ID, rec.Bytes, rec.Result)
		},
		"session webhook",
	)
}

// StreamError raises a stream-failure alert on the webhook and email
// channels, rate limited by the failure cooldown.
func (n *Notifier) StreamError(status pipeline.ErrorStatus) {
	n.mu.Lock()
	now := time.Now()
	cooled := now.Sub(n.lastFailureAlert) >= failureCooldown
	if cooled {
		n.lastFailureAlert = now
	}
	n.mu.Unlock()

	if !cooled {
		slog.Debug("stream failure alert suppressed by cooldown", "status", status)
		return
	}

	cfg := n.cfg.Snapshot()
	if cfg.HasWebhook() {
		go util.LogNotifyResult(
			func() error { return SendStreamFailureWebhook(cfg.WebhookURL, string(status)) },
			"stream failure webhook",
		)
	}
	if cfg.HasGraph() {
		go util.LogNotifyResult(
			func() error { return n.sendStreamFailureEmail(cfg, string(status)) },
			"stream failure email",
		)
	}
}

// RecoveryPerformed implements the control hooks; recovery is routine and
// only logged.
func (n *Notifier) RecoveryPerformed(dirty bool) {
	slog.Debug("pipeline recovery performed", "dirty", dirty)
}

// VolumeChanged implements the control hooks; volume moves are not alerted.
func (n *Notifier) VolumeChanged(int) {}

// HandleSilence processes a silence transition and triggers notifications.
func (n *Notifier) HandleSilence(event audio.SilenceEvent) {
	if event.JustEntered {
		n.handleSilenceStart(event.CurrentLevel)
	}

	if event.JustRecovered {
		n.handleSilenceEnd(event.TotalDurationMs, event.CurrentLevel)
	}
}

// handleSilenceStart triggers notifications when silence is first confirmed.
func (n *Notifier) handleSilenceStart(level float64) {
	cfg := n.cfg.Snapshot()

	n.trySend(&n.webhookSent, cfg.HasWebhook(), func() {
		util.LogNotifyResult(
			func() error { return SendSilenceWebhook(cfg.WebhookURL, level, cfg.SilenceThreshold) },
			"silence webhook",
		)
	})
	n.trySend(&n.emailSent, cfg.HasGraph(), func() {
		util.LogNotifyResult(
			func() error { return n.sendSilenceEmail(cfg, level) },
			"silence email",
		)
	})
}

// trySend sends a notification if the condition is met and not already sent.
func (n *Notifier) trySend(sent *bool, condition bool, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		go sender()
	}
}

// handleSilenceEnd triggers recovery notifications when silence ends. Only
// channels that sent the start notification send the recovery.
func (n *Notifier) handleSilenceEnd(totalDurationMs int64, level float64) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	sendWebhook := n.webhookSent
	sendEmail := n.emailSent
	n.webhookSent = false
	n.emailSent = false
	n.mu.Unlock()

	if sendWebhook {
		go util.LogNotifyResult(
			func() error {
				return SendRecoveryWebhook(cfg.WebhookURL, totalDurationMs, level, cfg.SilenceThreshold)
			},
			"recovery webhook",
		)
	}

	if sendEmail {
		go util.LogNotifyResult(
			func() error { return n.sendRecoveryEmail(cfg, totalDurationMs, level) },
			"recovery email",
		)
	}
}

// Reset clears the silence notification state.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.webhookSent = false
	n.emailSent = false
	n.mu.Unlock()
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func BuildGraphConfig(cfg config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// sendEmail handles the common email sending infrastructure.
func (n *Notifier) sendEmail(cfg *GraphConfig, subject, body string) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *Notifier) sendSilenceEmail(cfg config.Snapshot, level float64) error {
	subject := "[ALERT] Silence Detected - " + cfg.StationName
	body := fmt.Sprintf(
		"Silence detected on the reporter input.\n\n"+
			"Level:     %.1f dB\n"+
			"Threshold: %.1f dB\n"+
			"Time:      %s\n\n"+
			"Silence is ongoing. Please check the microphone and input routing.",
		level, cfg.SilenceThreshold, util.HumanTime(),
	)
	return n.sendEmail(BuildGraphConfig(cfg), subject, body)
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *Notifier) sendRecoveryEmail(cfg config.Snapshot, durationMs int64, level float64) error {
	subject := "[OK] Audio Recovered - " + cfg.StationName
	body := fmt.Sprintf(
		"Audio recovered on the reporter input.\n\n"+
			"Level:          %.1f dB\n"+
			"Silence lasted: %s\n"+
			"Threshold:      %.1f dB\n"+
			"Time:           %s",
		level, util.FormatDuration(durationMs), cfg.SilenceThreshold, util.HumanTime(),
	)
	return n.sendEmail(BuildGraphConfig(cfg), subject, body)
}

//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *Notifier) sendStreamFailureEmail(cfg config.Snapshot, status string) error {
	subject := "[ALERT] Stream Upload Failed - " + cfg.StationName
	body := fmt.Sprintf(
		"The capture stream to the collector failed.\n\n"+
			"Status:    %s\n"+
			"Collector: %s\n"+
			"Time:      %s\n\n"+
			"The session was ended and the pipeline reset. A new session can\n"+
			"be started from the record button or the web interface.",
		status, cfg.CollectorURL, util.HumanTime(),
	)
	return n.sendEmail(BuildGraphConfig(cfg), subject, body)
}
