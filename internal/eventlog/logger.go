// Package eventlog provides the reporter's audit log: session, stream,
// volume, and silence events appended as JSON lines to a single file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStart EventType = "session_start"
	SessionStop  EventType = "session_stop"
)

// Stream event types.
const (
	StreamError EventType = "stream_error"
	Recovery    EventType = "recovery"
)

// Input event types.
const (
	VolumeChange EventType = "volume_change"
)

// Silence event types.
const (
	SilenceStart EventType = "silence_start"
	SilenceEnd   EventType = "silence_end"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Result    string `json:"result,omitempty"`
}

// StreamDetails contains stream failure and recovery details.
type StreamDetails struct {
	Status string `json:"status,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// VolumeDetails contains volume change details.
type VolumeDetails struct {
	Level int `json:"level"`
}

// SilenceDetails contains silence event details.
type SilenceDetails struct {
	LevelDB     float64 `json:"level_db"`
	ThresholdDB float64 `json:"threshold_db"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
}

// Logger writes events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "reporter", "logs", fmt.Sprintf("%d", port), "reporter.jsonl")
	default: // linux, darwin
		return filepath.Join("/var/log/reporter", fmt.Sprintf("%d", port), "reporter.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a session start or stop event.
func (l *Logger) LogSession(eventType EventType, sessionID, endpoint string, bytes int64, result string) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &SessionDetails{
			SessionID: sessionID,
			Endpoint:  endpoint,
			Bytes:     bytes,
			Result:    result,
		},
	})
}

// LogStream logs a stream failure or a recovery pass.
func (l *Logger) LogStream(eventType EventType, status string, dirty bool) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &StreamDetails{
			Status: status,
			Dirty:  dirty,
		},
	})
}

// LogVolume logs a volume change.
func (l *Logger) LogVolume(level int) error {
	return l.Log(&Event{
		Type:    VolumeChange,
		Details: &VolumeDetails{Level: level},
	})
}

// LogSilence logs a silence start or end event.
func (l *Logger) LogSilence(eventType EventType, levelDB, thresholdDB float64, durationMs int64) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &SilenceDetails{
			LevelDB:     levelDB,
			ThresholdDB: thresholdDB,
			DurationMs:  durationMs,
		},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterStream  TypeFilter = "stream"
	FilterSilence TypeFilter = "silence"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support. It
// returns up to n events starting from offset, filtered by type, newest
// first, plus whether more entries exist beyond the page.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !matchesFilter(event.Type, filter) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) >= n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}

// matchesFilter reports whether an event type belongs to the filter group.
func matchesFilter(t EventType, filter TypeFilter) bool {
	switch filter {
	case FilterAll:
		return true
	case FilterSession:
		return t == SessionStart || t == SessionStop
	case FilterStream:
		return t == StreamError || t == Recovery
	case FilterSilence:
		return t == SilenceStart || t == SilenceEnd
	default:
		return false
	}
}
