package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/david-collett/reclaimenergy/internal/reclaim"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// historyEntry is the JSON view of one stored state.
type historyEntry struct {
	ID          int64                     `json:"id"`
	Kind        string                    `json:"kind"`
	Values      map[reclaim.Attribute]any `json:"values"`
	DecodeError string                    `json:"decode_error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// handleGetHistory returns recent stored states, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "state history unavailable")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), s.deviceID, limit)
	if err != nil {
		s.logger.Error("failed to load state history", "error", err)
		writeInternalError(w, "failed to load state history")
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		values, err := e.State.Values()
		h := historyEntry{
			ID:        e.ID,
			Kind:      e.State.Kind().String(),
			Values:    values,
			CreatedAt: e.CreatedAt.UTC(),
		}
		if err != nil {
			h.DecodeError = err.Error()
		}
		out = append(out, h)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": s.deviceID,
		"history":   out,
		"count":     len(out),
	})
}

// parseHistoryLimit validates the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit, nil
	}
	return limit, nil
}
