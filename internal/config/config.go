// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort           = 8090
	DefaultWebUsername       = "admin"
	DefaultWebPassword       = "reporter"
	DefaultCollectorURL      = "http://localhost:8000/api/audio"
	DefaultSilenceThreshold  = -40.0
	DefaultSilenceDurationMs = 15000 // 15 seconds in milliseconds
	DefaultSilenceRecoveryMs = 5000  // 5 seconds in milliseconds
	DefaultStationName       = "ZuidWest FM"
	DefaultStationColorLight = "#E6007E"
	DefaultStationColorDark  = "#E6007E"
)

// Validation patterns define regular expressions for configuration value validation.
var (
	// Station name: any printable characters except control chars (blocks CRLF injection in emails)
	stationNamePattern  = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	stationColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// structValidator checks tagged fields on load.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port"`        // HTTP server port
	Username   string `json:"username"`    // Login username
	Password   string `json:"password"`    // Login password
	APIKey     string `json:"api_key"`     // API key for machine control endpoints
}

// WebConfig holds station branding settings.
type WebConfig struct {
	StationName string `json:"station_name"` // Station display name
	ColorLight  string `json:"color_light"`  // Theme color for light mode (#RRGGBB)
	ColorDark   string `json:"color_dark"`   // Theme color for dark mode (#RRGGBB)
}

// AudioConfig holds audio input device and monitor settings.
type AudioConfig struct {
	Input  string `json:"input"`  // Audio input device identifier
	Volume int    `json:"volume" validate:"gte=0,lte=100"` // Monitor volume level
}

// UploadConfig holds the destination for streamed audio.
type UploadConfig struct {
	CollectorURL string `json:"collector_url" validate:"omitempty,url"` // Collector upload endpoint
	APIKey       string `json:"api_key"`                                // Optional key sent as X-API-Key
}

// SilenceConfig holds silence detection thresholds and timing parameters.
type SilenceConfig struct {
	ThresholdDB float64 `json:"threshold_db"` // Silence threshold in dB
	DurationMs  int64   `json:"duration_ms"`  // Duration below threshold before silence alert
	RecoveryMs  int64   `json:"recovery_ms"`  // Duration above threshold before recovery
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url"` // Webhook URL for alerts
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Email   EmailConfig   `json:"email"`   // Email settings
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	Upload        UploadConfig        `json:"upload"`
	Silence       SilenceConfig       `json:"silence"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Web: WebConfig{
			StationName: DefaultStationName,
			ColorLight:  DefaultStationColorLight,
			ColorDark:   DefaultStationColorDark,
		},
		Audio: AudioConfig{
			Volume: types.DefaultVolume,
		},
		Upload: UploadConfig{
			CollectorURL: DefaultCollectorURL,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyDefaults()
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	name := c.Web.StationName
	if name == "" || len(name) > 30 || !stationNamePattern.MatchString(name) {
		return fmt.Errorf("invalid station_name %q: must be 1-30 printable characters", name)
	}
	if !stationColorPattern.MatchString(c.Web.ColorLight) {
		return fmt.Errorf("invalid color_light %q: must be hex format (#RRGGBB)", c.Web.ColorLight)
	}
	if !stationColorPattern.MatchString(c.Web.ColorDark) {
		return fmt.Errorf("invalid color_dark %q: must be hex format (#RRGGBB)", c.Web.ColorDark)
	}
	if err := structValidator.Struct(c); err != nil {
		return util.WrapError("validate config", err)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.Username == "" {
		c.System.Username = DefaultWebUsername
	}
	if c.System.Password == "" {
		c.System.Password = DefaultWebPassword
	}
	if c.System.APIKey == "" {
		if key, err := GenerateAPIKey(); err == nil {
			c.System.APIKey = key
		}
	}
	// Web defaults
	if c.Web.StationName == "" {
		c.Web.StationName = DefaultStationName
	}
	if c.Web.ColorLight == "" {
		c.Web.ColorLight = DefaultStationColorLight
	}
	if c.Web.ColorDark == "" {
		c.Web.ColorDark = DefaultStationColorDark
	}
	// Audio defaults
	if c.Audio.Volume == 0 {
		c.Audio.Volume = types.DefaultVolume
	}
	// Upload defaults
	if c.Upload.CollectorURL == "" {
		c.Upload.CollectorURL = DefaultCollectorURL
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// CollectorURL returns the configured upload destination.
func (c *Config) CollectorURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Upload.CollectorURL
}

// Volume returns the persisted monitor volume level.
func (c *Config) Volume() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Volume
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.Notifications.Email.ClientSecret,
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// GetAPIKey returns the API key for machine control endpoints.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetVolume persists the monitor volume level.
func (c *Config) SetVolume(volume int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Volume = volume
	return c.saveLocked()
}

// SetCollectorURL updates the upload destination and saves the configuration.
func (c *Config) SetCollectorURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Upload.CollectorURL = url
	return c.saveLocked()
}

// SetUploadAPIKey updates the key sent to the collector and saves the configuration.
func (c *Config) SetUploadAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Upload.APIKey = key
	return c.saveLocked()
}

// SetSilenceThreshold updates the silence detection threshold and saves the configuration.
func (c *Config) SetSilenceThreshold(threshold float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Silence.ThresholdDB = threshold
	return c.saveLocked()
}

// SetSilenceDurationMs updates the silence duration and saves the configuration.
func (c *Config) SetSilenceDurationMs(ms int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Silence.DurationMs = ms
	return c.saveLocked()
}

// SetSilenceRecoveryMs updates the silence recovery time and saves the configuration.
func (c *Config) SetSilenceRecoveryMs(ms int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Silence.RecoveryMs = ms
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(tenantID, clientID, clientSecret, fromAddress, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.TenantID = tenantID
	c.Notifications.Email.ClientID = clientID
	c.Notifications.Email.ClientSecret = clientSecret
	c.Notifications.Email.FromAddress = fromAddress
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// SetAPIKey updates the machine control API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int
	WebUser     string
	WebPassword string
	APIKey      string

	// Web/Branding
	StationName       string
	StationColorLight string
	StationColorDark  string

	// Audio
	AudioInput string
	Volume     int

	// Upload
	CollectorURL string
	UploadAPIKey string

	// Silence Detection
	SilenceThreshold  float64
	SilenceDurationMs int64
	SilenceRecoveryMs int64

	// Notifications
	WebhookURL        string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:     c.System.Port,
		WebUser:     c.System.Username,
		WebPassword: c.System.Password,
		APIKey:      c.System.APIKey,

		// Web/Branding
		StationName:       c.Web.StationName,
		StationColorLight: c.Web.ColorLight,
		StationColorDark:  c.Web.ColorDark,

		// Audio
		AudioInput: c.Audio.Input,
		Volume:     c.Audio.Volume,

		// Upload
		CollectorURL: c.Upload.CollectorURL,
		UploadAPIKey: c.Upload.APIKey,

		// Silence Detection (with defaults)
		SilenceThreshold:  cmp.Or(c.Silence.ThresholdDB, DefaultSilenceThreshold),
		SilenceDurationMs: cmp.Or(c.Silence.DurationMs, DefaultSilenceDurationMs),
		SilenceRecoveryMs: cmp.Or(c.Silence.RecoveryMs, DefaultSilenceRecoveryMs),

		// Notifications
		WebhookURL:        c.Notifications.Webhook.URL,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
