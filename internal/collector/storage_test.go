package collector

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

func TestSaveWritesRecordingFile(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	payload := []byte("pcm payload bytes")
	filename, size, err := storage.Save(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), size)
	require.True(t, strings.HasPrefix(filename, "recording_"))
	require.True(t, strings.HasSuffix(filename, ".pcm"))

	stored, err := os.ReadFile(storage.Path(filename))
	require.NoError(t, err)
	require.Equal(t, payload, stored)

	// No leftover temp file
	entries, err := os.ReadDir(storage.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSaveSameSecondGetsUniqueNames(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	first, _, err := storage.Save(strings.NewReader("a"))
	require.NoError(t, err)
	second, _, err := storage.Save(strings.NewReader("b"))
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestParseRecordingTimestamp(t *testing.T) {
	created, ok := parseRecordingTimestamp("recording_20250115_140302.pcm")
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 1, 15, 14, 3, 2, 0, time.Local), created)

	_, ok = parseRecordingTimestamp("notes.txt")
	require.False(t, ok)
	_, ok = parseRecordingTimestamp("recording_garbage.pcm")
	require.False(t, ok)
}

func TestCleanerRemovesOldRecordings(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	old := "recording_20200101_000000.pcm"
	fresh := "recording_" + time.Now().Format(timestampLayout) + ".pcm"
	require.NoError(t, os.WriteFile(filepath.Join(storage.Dir(), old), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(storage.Dir(), fresh), []byte("x"), 0o600))

	cleaner := NewCleaner(&Config{
		RetentionDays: 30,
		StorageMode:   types.StorageLocal,
	}, storage)
	require.NotNil(t, cleaner)

	cleaner.Run()

	recordings, err := storage.List()
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	require.Equal(t, fresh, recordings[0].Filename)
}

func TestCleanerDisabledWithoutRetention(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	require.Nil(t, NewCleaner(&Config{RetentionDays: 0, StorageMode: types.StorageLocal}, storage))
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"COLLECTOR_PORT", "COLLECTOR_RECORDINGS_DIR", "COLLECTOR_API_KEY",
		"COLLECTOR_STORAGE_MODE", "COLLECTOR_RETENTION_DAYS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Port)
	require.Equal(t, "./recordings", cfg.RecordingsDir)
	require.Equal(t, types.StorageLocal, cfg.StorageMode)
	require.Equal(t, 0, cfg.RetentionDays)
	require.False(t, cfg.S3Configured())
}

func TestLoadConfigRejectsS3ModeWithoutCredentials(t *testing.T) {
	t.Setenv("COLLECTOR_STORAGE_MODE", "s3")
	t.Setenv("COLLECTOR_S3_BUCKET", "")
	t.Setenv("COLLECTOR_S3_ACCESS_KEY_ID", "")
	t.Setenv("COLLECTOR_S3_SECRET_ACCESS_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
}
