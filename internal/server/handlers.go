package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ShayCichocki/reflex/internal/interrupt"
)

const maxSignalBody = 64 << 10

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, "unavailable", what+" is not configured")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Status == nil {
		unavailable(w, "loop status")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Status())
}

func (s *Server) handleReflection(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Gate == nil {
		unavailable(w, "reflection gate")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Gate.Export())
}

func (s *Server) handleCost(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Governor == nil {
		unavailable(w, "cost governor")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Governor.Report())
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Checkpoints == nil {
		unavailable(w, "checkpoint store")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Checkpoints.List())
}

// handleSignal accepts a JSON signal object or a plain-text command line.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Signals == nil {
		unavailable(w, "signal sink")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignalBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "read body: "+err.Error())
		return
	}
	sig, err := interrupt.ParseSignal(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_signal", err.Error())
		return
	}

	if err := s.cfg.Signals.Submit(sig); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, interrupt.ErrQueueFull) {
			status = http.StatusTooManyRequests
		}
		s.logger.Warn().Err(err).Str("signal", string(sig.Type)).Msg("signal not accepted")
		writeError(w, status, "not_accepted", err.Error())
		return
	}

	s.logger.Info().Str("signal", string(sig.Type)).Msg("signal accepted")
	writeJSON(w, http.StatusAccepted, sig)
}
