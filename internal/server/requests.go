package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
}

// --- Volume control ---

// VolumeRequest is the request body for volume/adjust.
type VolumeRequest struct {
	Direction string `json:"direction" validate:"required,oneof=up down"`
}

// --- Upload settings ---

// UploadUpdateRequest is the request body for upload/update.
type UploadUpdateRequest struct {
	CollectorURL string `json:"collector_url" validate:"omitempty,url,max=2048"`
	APIKey       *string `json:"api_key" validate:"omitempty,max=256"`
}

// --- Silence detection settings ---

// SilenceUpdateRequest is the request body for silence/update.
type SilenceUpdateRequest struct {
	ThresholdDB *float64 `json:"threshold_db" validate:"omitempty,gte=-60,lte=0"`
	DurationMs  *int64   `json:"duration_ms" validate:"omitempty,gte=500,lte=300000"`
	RecoveryMs  *int64   `json:"recovery_ms" validate:"omitempty,gte=500,lte=60000"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,max=2048"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// --- Event log ---

// EventLogViewRequest is the request body for eventlog/view.
type EventLogViewRequest struct {
	Filter string `json:"filter" validate:"omitempty,oneof=all session stream silence"`
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
}
