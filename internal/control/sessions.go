package control

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"slices"
	"sync"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// DefaultHistorySize is the number of past sessions the controller keeps.
const DefaultHistorySize = 32

// ResultCompleted marks a session that ended through the normal stop path.
const ResultCompleted = "completed"

// ResultActive marks the session that is still streaming.
const ResultActive = "active"

// newSessionID returns a short random hex identifier.
func newSessionID() string {
	b := make([]byte, 4)
	if _, err := cryptorand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}

// history is a bounded, newest-first list of session records. The control
// loop is the only writer; Snapshot serves concurrent readers.
type history struct {
	mu      sync.RWMutex
	records []types.SessionRecord
	limit   int
}

// newHistory returns an empty history keeping up to limit records.
func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &history{limit: limit}
}

// add prepends a record, dropping the oldest past the limit.
func (h *history) add(rec types.SessionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append([]types.SessionRecord{rec}, h.records...)
	if len(h.records) > h.limit {
		h.records = h.records[:h.limit]
	}
}

// update replaces the record with the same id, if present.
func (h *history) update(rec types.SessionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.records {
		if h.records[i].ID == rec.ID {
			h.records[i] = rec
			return
		}
	}
}

// Snapshot returns a copy of the records, newest first.
func (h *history) Snapshot() []types.SessionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.records)
}
