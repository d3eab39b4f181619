package collector

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

const (
	recordingPrefix = "recording_"
	recordingExt    = ".pcm"
	timestampLayout = "20060102_150405"
)

// RecordingInfo describes a stored recording.
type RecordingInfo struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Created   time.Time `json:"created"`
}

// Storage persists incoming audio streams under the recordings directory.
type Storage struct {
	dir string
}

// NewStorage creates the recordings directory if needed and verifies it
// is actually writable before the first stream arrives.
func NewStorage(dir string) (*Storage, error) {
	if err := util.CheckPathWritable(dir); err != nil {
		return nil, util.WrapError("recordings directory", err)
	}
	return &Storage{dir: dir}, nil
}

// Dir returns the recordings directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Save streams r to a new recording file and returns its name and size.
// The file is written to a temp name first so partial streams never appear
// under the final name. Saves within the same second get a numeric suffix.
func (s *Storage) Save(r io.Reader) (string, int64, error) {
	stamp := time.Now().Format(timestampLayout)

	var f *os.File
	var filename, finalPath, tmpPath string
	for attempt := 0; ; attempt++ {
		if attempt == 0 {
			filename = recordingPrefix + stamp + recordingExt
		} else if attempt < 100 {
			filename = fmt.Sprintf("%s%s_%d%s", recordingPrefix, stamp, attempt, recordingExt)
		} else {
			return "", 0, fmt.Errorf("no free recording name for %s", stamp)
		}
		finalPath = filepath.Join(s.dir, filename)
		tmpPath = finalPath + ".part"

		if _, err := os.Stat(finalPath); err == nil {
			continue
		}
		var err error
		f, err = os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", 0, util.WrapError("create recording file", err)
		}
		break
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", 0, util.WrapError("write recording", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, util.WrapError("finalize recording", err)
	}

	return filename, size, nil
}

// Path returns the absolute path of a stored recording.
func (s *Storage) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// Remove deletes a stored recording.
func (s *Storage) Remove(filename string) error {
	return os.Remove(filepath.Join(s.dir, filename))
}

// List returns all recordings sorted by creation time, newest first.
func (s *Storage) List() ([]RecordingInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, util.WrapError("read recordings directory", err)
	}

	recordings := make([]RecordingInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isRecordingName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		created, ok := parseRecordingTimestamp(entry.Name())
		if !ok {
			created = info.ModTime()
		}
		recordings = append(recordings, RecordingInfo{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			Created:   created,
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].Created.After(recordings[j].Created)
	})

	return recordings, nil
}

func isRecordingName(name string) bool {
	return strings.HasPrefix(name, recordingPrefix) && strings.HasSuffix(name, recordingExt)
}

// parseRecordingTimestamp extracts the creation time encoded in a recording
// filename like "recording_20250115_140302.pcm".
func parseRecordingTimestamp(name string) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, recordingPrefix), recordingExt)
	t, err := time.ParseInLocation(timestampLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
