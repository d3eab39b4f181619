// Package types provides shared type definitions used across the reporter.
package types

import (
	"time"
)

// Button identifies a physical control on the reporter unit.
type Button string

const (
	// ButtonRecord starts and stops a streaming session.
	ButtonRecord Button = "record"
	// ButtonVolumeUp raises the monitor volume one step.
	ButtonVolumeUp Button = "volume_up"
	// ButtonVolumeDown lowers the monitor volume one step.
	ButtonVolumeDown Button = "volume_down"
)

// ButtonTransition is the edge reported for a button.
type ButtonTransition string

const (
	// Pressed indicates the button was pushed down.
	Pressed ButtonTransition = "pressed"
	// Released indicates a normal release.
	Released ButtonTransition = "released"
	// LongReleased indicates a release after a long hold. Stop semantics
	// are identical to Released.
	LongReleased ButtonTransition = "long_released"
)

// Volume control bounds. Volume is adjusted in fixed steps and clamped.
const (
	// VolumeStep is the adjustment per button press.
	VolumeStep = 10
	// VolumeMin is the lower volume bound.
	VolumeMin = 0
	// VolumeMax is the upper volume bound.
	VolumeMax = 100
	// DefaultVolume is the startup volume level.
	DefaultVolume = 60
)

const (
	// InitialRetryDelay is the starting delay between retry attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between retry attempts.
	MaxRetryDelay = 60000 * time.Millisecond
	// SuccessThreshold is the duration after which retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
	// SettleDelay is the pause after a pre-start reset before a new
	// session may run.
	SettleDelay = 100 * time.Millisecond
	// StopWaitTimeout bounds how long a pipeline stop barrier may block.
	StopWaitTimeout = 5000 * time.Millisecond
	// ConnectTimeout is the dial timeout for the upload connection.
	ConnectTimeout = 10000 * time.Millisecond
)

// SessionStatus is a snapshot of the active or most recent session,
// published by the control loop for outside readers.
type SessionStatus struct {
	Recording bool   `json:"recording"`            // Session flag
	SessionID string `json:"session_id,omitzero"`  // Short hex id of the active session
	StartedAt string `json:"started_at,omitzero"`  // RFC3339 session start
	BytesSent int64  `json:"bytes_sent,omitzero"`  // Payload bytes uploaded so far
	Endpoint  string `json:"endpoint,omitzero"`    // Upload destination URL
	Volume    int    `json:"volume"`               // Current monitor volume
	LastError string `json:"last_error,omitzero"`  // Most recent session error
	Uptime    string `json:"uptime,omitzero"`      // Time since reporter start
}

// SessionRecord describes one completed or active streaming session.
type SessionRecord struct {
	ID        string `json:"id"`                 // Short hex identifier
	StartedAt int64  `json:"started_at"`         // Unix timestamp
	EndedAt   int64  `json:"ended_at,omitzero"`  // Unix timestamp; zero while active
	Bytes     int64  `json:"bytes"`              // Payload bytes uploaded
	Result    string `json:"result"`             // "active", "completed" or an error status
}

// StageInfo describes one pipeline stage for status reporting.
type StageInfo struct {
	Tag    string `json:"tag"`              // Stage registration tag
	State  string `json:"state"`            // Lifecycle state
	Status string `json:"status,omitzero"`  // Error status, only when state is "error"
}

// StorageMode determines where the collector keeps received recordings.
type StorageMode string

// Supported storage modes.
const (
	StorageLocal StorageMode = "local" // Save only to local filesystem
	StorageS3    StorageMode = "s3"    // Upload only to S3
	StorageBoth  StorageMode = "both"  // Save locally AND upload to S3
)

// DefaultRetentionDays is the default number of days the collector keeps recordings.
const DefaultRetentionDays = 90

// AudioLevels contains current audio level measurements for the mono capture input.
type AudioLevels struct {
	RMS               float64      `json:"rms"`                          // RMS level in dB
	Peak              float64      `json:"peak"`                         // Peak level in dB
	Silence           bool         `json:"silence,omitzero"`             // True if audio below threshold
	SilenceDurationMs int64        `json:"silence_duration_ms,omitzero"` // Silence duration in milliseconds
	SilenceLevel      SilenceLevel `json:"silence_level,omitzero"`       // "active" when in confirmed silence state
	Clip              int          `json:"clip,omitzero"`                // Clipped sample count
}

// SilenceLevel represents the silence detection state.
type SilenceLevel string

// SilenceLevelActive indicates silence is confirmed.
const SilenceLevelActive SilenceLevel = "active"

// AudioMetrics contains audio level metrics for callback processing.
type AudioMetrics struct {
	RMS               float64      // RMS level in dB
	Peak              float64      // Peak level in dB
	Silence           bool         // True if audio below threshold
	SilenceDurationMs int64        // Silence duration in milliseconds
	SilenceLevel      SilenceLevel // "active" when in confirmed silence state
	Clip              int          // Clipped sample count
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// WSStatusResponse is sent to clients with full reporter status.
type WSStatusResponse struct {
	Type              string        `json:"type"`                // Message type identifier
	Session           SessionStatus `json:"session"`             // Active session snapshot
	Stages            []StageInfo   `json:"stages"`              // Pipeline stage states
	Sessions          []SessionRecord `json:"sessions"`          // Recent session history
	CollectorURL      string        `json:"collector_url"`       // Configured upload destination
	Devices           []AudioDevice `json:"devices"`             // Available audio devices
	SilenceThreshold  float64       `json:"silence_threshold"`   // Silence threshold in dB
	SilenceDurationMs int64         `json:"silence_duration_ms"` // Silence duration in milliseconds
	SilenceRecoveryMs int64         `json:"silence_recovery_ms"` // Recovery duration in milliseconds
	NotifyWebhook     string        `json:"notify_webhook"`      // Webhook URL for alerts
	GraphTenantID     string        `json:"graph_tenant_id"`     // Azure AD tenant ID
	GraphClientID     string        `json:"graph_client_id"`     // App registration client ID
	GraphFromAddress  string        `json:"graph_from_address"`  // Shared mailbox address
	GraphRecipients   string        `json:"graph_recipients"`    // Comma-separated recipients
	Settings          WSSettings    `json:"settings"`            // Current settings
	Version           VersionInfo   `json:"version"`             // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	AudioInput string `json:"audio_input"` // Selected audio input device
	Platform   string `json:"platform"`    // Operating system platform
}

// WSLevelsResponse is sent to clients with audio level updates.
type WSLevelsResponse struct {
	Type   string      `json:"type"`   // Message type identifier
	Levels AudioLevels `json:"levels"` // Current audio levels
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
