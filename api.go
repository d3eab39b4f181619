package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/oszuidwest/zwfm-reporter/internal/audio"
	"github.com/oszuidwest/zwfm-reporter/internal/control"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// requireMethod sends a 405 and returns false when the method does not match.
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// handleAPIStatus returns the current session, pipeline and level status.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session":  s.ctrl.Status(),
		"stages":   s.ctrl.Stages(),
		"levels":   s.ctrl.Levels(),
		"platform": runtime.GOOS,
		"version":  s.version.Info(),
	})
}

// handleAPISessions returns the recent session history, newest first.
func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	sessions := s.ctrl.Sessions()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleAPIDevices returns the audio input devices available on this host.
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": audio.Devices(),
	})
}

// handleAPIConfig returns the non-secret configuration.
func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	cfg := s.config.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"station_name":  cfg.StationName,
		"audio_input":   cfg.AudioInput,
		"volume":        cfg.Volume,
		"collector_url": cfg.CollectorURL,
		"silence": map[string]any{
			"threshold_db": cfg.SilenceThreshold,
			"duration_ms":  cfg.SilenceDurationMs,
			"recovery_ms":  cfg.SilenceRecoveryMs,
		},
	})
}

// handleAPISessionStart injects a record-button press, starting a session if
// none is active.
func (s *Server) handleAPISessionStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if s.ctrl.Recording() {
		s.writeError(w, http.StatusConflict, "session already active")
		return
	}

	s.ctrl.Bus().Publish(control.ButtonEvent(types.ButtonRecord, types.Pressed))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "session_starting"})
}

// handleAPISessionStop injects a record-button release, ending the active session.
func (s *Server) handleAPISessionStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if !s.ctrl.Recording() {
		s.writeError(w, http.StatusConflict, "no active session")
		return
	}

	s.ctrl.Bus().Publish(control.ButtonEvent(types.ButtonRecord, types.Released))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "session_stopping"})
}

// volumeRequest is the body for POST /api/volume.
type volumeRequest struct {
	Direction string `json:"direction"`
}

// handleAPIVolume injects a volume-button press.
func (s *Server) handleAPIVolume(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	req, ok := parseJSON[volumeRequest](s, w, r)
	if !ok {
		return
	}

	var button types.Button
	switch req.Direction {
	case "up":
		button = types.ButtonVolumeUp
	case "down":
		button = types.ButtonVolumeDown
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid direction: %q", req.Direction))
		return
	}

	s.ctrl.Bus().Publish(control.ButtonEvent(button, types.Pressed))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "volume_adjusting",
		"volume": s.ctrl.Volume(),
	})
}
