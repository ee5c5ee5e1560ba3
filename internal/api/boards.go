package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-flyport/internal/bridges/flyport"
)

// handleListBoards returns the polling status of every registered board.
func (s *Server) handleListBoards(w http.ResponseWriter, _ *http.Request) {
	statuses := s.bridge.Statuses()
	if statuses == nil {
		statuses = []flyport.BoardStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"boards": statuses,
		"count":  len(statuses),
	})
}

// handleGetBoard returns the status of one board by alias.
func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	st, ok := s.bridge.Status(alias)
	if !ok {
		writeNotFound(w, "board not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleResumeBoard schedules a suspended board for the next poll cycle.
func (s *Server) handleResumeBoard(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	err := s.bridge.Resume(alias)
	switch {
	case err == nil:
	case errors.Is(err, flyport.ErrUnknownBoard):
		writeNotFound(w, "board not found")
		return
	case errors.Is(err, flyport.ErrNotRunning):
		writeError(w, http.StatusConflict, ErrCodeConflict, "polling is not running")
		return
	default:
		s.logger.Error("resuming board failed", "alias", alias, "error", err)
		writeInternalError(w, "failed to resume board")
		return
	}

	s.logger.Info("board resume requested", "alias", alias, "request_id", requestID(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"alias":  alias,
		"status": "resume_scheduled",
	})
}
