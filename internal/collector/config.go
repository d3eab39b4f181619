// Package collector implements the companion service that receives chunked
// audio streams from reporters, persists them as raw PCM recordings, and
// optionally archives them to S3-compatible storage.
package collector

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// Config holds the collector service configuration, read from environment
// variables (with .env autoload).
type Config struct {
	Port          int
	RecordingsDir string
	APIKey        string

	StorageMode   types.StorageMode
	RetentionDays int

	S3Endpoint        string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is loaded first if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := &Config{
		Port:          envInt("COLLECTOR_PORT", 8000),
		RecordingsDir: envString("COLLECTOR_RECORDINGS_DIR", "./recordings"),
		APIKey:        envString("COLLECTOR_API_KEY", ""),

		StorageMode:   types.StorageMode(envString("COLLECTOR_STORAGE_MODE", string(types.StorageLocal))),
		RetentionDays: envInt("COLLECTOR_RETENTION_DAYS", 0),

		S3Endpoint:        envString("COLLECTOR_S3_ENDPOINT", ""),
		S3Bucket:          envString("COLLECTOR_S3_BUCKET", ""),
		S3AccessKeyID:     envString("COLLECTOR_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: envString("COLLECTOR_S3_SECRET_ACCESS_KEY", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("invalid retention days: %d", c.RetentionDays)
	}

	switch c.StorageMode {
	case types.StorageLocal, types.StorageS3, types.StorageBoth:
	default:
		return fmt.Errorf("invalid storage mode: %q", c.StorageMode)
	}

	if c.StorageMode != types.StorageLocal && !c.S3Configured() {
		return fmt.Errorf("storage mode %q requires S3 configuration", c.StorageMode)
	}

	return nil
}

// S3Configured reports whether the S3 credentials are complete.
func (c *Config) S3Configured() bool {
	return c.S3Bucket != "" && c.S3AccessKeyID != "" && c.S3SecretAccessKey != ""
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment", "key", key, "value", v)
		return fallback
	}
	return n
}
