package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	logger, err := NewLogger(filepath.Join(t.TempDir(), "reporter.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestLogAndReadBack(t *testing.T) {
	logger := newTestLogger(t)

	require.NoError(t, logger.LogSession(SessionStart, "ab12cd34", "http://collector/api/audio", 0, ""))
	require.NoError(t, logger.LogVolume(70))
	require.NoError(t, logger.LogStream(StreamError, "open", false))
	require.NoError(t, logger.LogStream(Recovery, "", true))
	require.NoError(t, logger.LogSession(SessionStop, "ab12cd34", "", 4096, "error_open"))

	events, hasMore, err := ReadLast(logger.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	require.False(t, hasMore)
	require.Len(t, events, 5)

	// Newest first.
	require.Equal(t, SessionStop, events[0].Type)
	require.Equal(t, SessionStart, events[4].Type)
	for _, ev := range events {
		require.False(t, ev.Timestamp.IsZero())
	}
}

func TestReadLastFilters(t *testing.T) {
	logger := newTestLogger(t)

	require.NoError(t, logger.LogSession(SessionStart, "a", "", 0, ""))
	require.NoError(t, logger.LogStream(StreamError, "timeout", false))
	require.NoError(t, logger.LogSilence(SilenceStart, -52.3, -40, 0))
	require.NoError(t, logger.LogSilence(SilenceEnd, -12.0, -40, 16500))
	require.NoError(t, logger.LogSession(SessionStop, "a", "", 128, "completed"))

	events, _, err := ReadLast(logger.Path(), 10, 0, FilterSilence)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, SilenceEnd, events[0].Type)
	require.Equal(t, SilenceStart, events[1].Type)

	events, _, err = ReadLast(logger.Path(), 10, 0, FilterSession)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, _, err = ReadLast(logger.Path(), 10, 0, FilterStream)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, StreamError, events[0].Type)
}

func TestReadLastPagination(t *testing.T) {
	logger := newTestLogger(t)
	for range 7 {
		require.NoError(t, logger.LogVolume(50))
	}

	events, hasMore, err := ReadLast(logger.Path(), 3, 0, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, hasMore)

	events, hasMore, err = ReadLast(logger.Path(), 3, 6, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.False(t, hasMore)
}

func TestReadLastMissingFile(t *testing.T) {
	events, hasMore, err := ReadLast(filepath.Join(t.TempDir(), "absent.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	require.False(t, hasMore)
	require.Empty(t, events)
}
