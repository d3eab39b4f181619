package collector

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/audio"
)

// ServiceName identifies the collector in health responses.
const ServiceName = "zwfm-collector"

// UploadAck is the JSON acknowledgment returned after a received stream.
type UploadAck struct {
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	BitsPerSample   int     `json:"bits_per_sample"`
	Channels        int     `json:"channels"`
}

// Server is the collector HTTP surface.
type Server struct {
	cfg      *Config
	storage  *Storage
	uploader *Uploader // nil in local-only mode
}

// NewServer creates the collector server.
func NewServer(cfg *Config, storage *Storage, uploader *Uploader) *Server {
	return &Server{cfg: cfg, storage: storage, uploader: uploader}
}

// Routes builds the collector route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/audio", s.apiKeyAuth(s.handleAudio))
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/recordings", s.apiKeyAuth(s.handleRecordings))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. Auth is skipped
// entirely when no key is configured.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next(w, r)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(s.cfg.APIKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message, "status": "error"})
}

// handleAudio receives a chunked audio stream and persists it as one
// recording. net/http decodes the chunked transfer encoding, so the body
// reads as the concatenated payload bytes in arrival order.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sampleRate := headerInt(r, "x-audio-sample-rates", audio.SampleRate)
	bits := headerInt(r, "x-audio-bits", audio.BitsPerSample)
	channels := headerInt(r, "x-audio-channel", audio.Channels)

	filename, size, err := s.storage.Save(r.Body)
	if err != nil {
		slog.Error("failed to store recording", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store recording")
		return
	}

	duration := audio.Duration(size, sampleRate, bits, channels)

	slog.Info("recording received",
		"file", filename,
		"size", size,
		"duration_s", fmt.Sprintf("%.1f", duration),
		"remote", r.RemoteAddr)

	if s.uploader != nil {
		s.uploader.Enqueue(filename, size)
	}

	s.writeJSON(w, http.StatusOK, UploadAck{
		Status:          "ok",
		Message:         "recording stored",
		Filename:        filename,
		SizeBytes:       size,
		DurationSeconds: duration,
		SampleRate:      sampleRate,
		BitsPerSample:   bits,
		Channels:        channels,
	})
}

// handleHealth responds to liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRecordings lists stored recordings, newest first.
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordings, err := s.storage.List()
	if err != nil {
		slog.Error("failed to list recordings", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"recordings": recordings,
		"count":      len(recordings),
	})
}

// headerInt parses a decimal header value, falling back when absent or invalid.
func headerInt(r *http.Request, name string, fallback int) int {
	v := r.Header.Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid audio metadata header", "header", name, "value", v)
		return fallback
	}
	return n
}
