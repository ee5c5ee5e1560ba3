package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-flyport/internal/history"
)

// handleLineHistory returns recent line changes for one address, newest first.
//
//	GET /api/v1/history/lines?address=192.168.0.115:80:2&limit=20
func (s *Server) handleLineHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history store not configured")
		return
	}

	address := r.URL.Query().Get("address")
	if address == "" {
		writeBadRequest(w, "address query parameter is required")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events, err := s.history.LineHistory(r.Context(), address, limit)
	if err != nil {
		s.logger.Error("line history query failed", "address", address, "error", err)
		writeInternalError(w, "failed to query line history")
		return
	}
	if events == nil {
		events = []history.LineEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"events":  events,
		"count":   len(events),
	})
}

// handleCommandHistory returns recent command outcomes, newest first.
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history store not configured")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.history.CommandHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("command history query failed", "error", err)
		writeInternalError(w, "failed to query command history")
		return
	}
	if entries == nil {
		entries = []history.CommandEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": entries,
		"count":    len(entries),
	})
}

// parseLimit reads the optional limit parameter. Zero leaves the store
// default in place. A bad value writes a 400 and returns false.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
