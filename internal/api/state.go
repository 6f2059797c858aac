package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/david-collett/reclaimenergy/internal/coordinator"
	"github.com/david-collett/reclaimenergy/internal/reclaim"
)

// stateResponse is the JSON view of one controller state.
type stateResponse struct {
	DeviceID    string                    `json:"device_id"`
	Kind        string                    `json:"kind"`
	Values      map[reclaim.Attribute]any `json:"values"`
	Registers   map[uint16]int            `json:"registers"`
	DecodeError string                    `json:"decode_error,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// currentStateResponse adds session status to the merged view.
type currentStateResponse struct {
	stateResponse
	Connected           bool    `json:"connected"`
	PollIntervalSeconds float64 `json:"poll_interval_seconds"`
}

// attributeResponse describes one register map entry.
type attributeResponse struct {
	Name     reclaim.Attribute `json:"name"`
	Address  uint16            `json:"address"`
	Kind     string            `json:"kind"`
	Writable bool              `json:"writable"`
	Labels   []string          `json:"labels,omitempty"`
	Value    any               `json:"value,omitempty"`
}

// setAttributeRequest is the body of PUT /attributes/{name}.
// Value may be the typed JSON value or its string form ("on", "21.5").
type setAttributeRequest struct {
	Value json.RawMessage `json:"value"`
}

// stateView decodes state for the wire. Registers that fail to decode are
// left out of Values and reported in DecodeError.
func (s *Server) stateView(state reclaim.DeviceState, at time.Time) stateResponse {
	values, err := state.Values()
	view := stateResponse{
		DeviceID:  s.deviceID,
		Kind:      state.Kind().String(),
		Values:    values,
		Registers: state.Registers(),
		UpdatedAt: at.UTC(),
	}
	if err != nil {
		s.logger.Warn("state contains undecodable registers", "error", err)
		view.DecodeError = err.Error()
	}
	return view
}

// handleHealth reports server and session status. No auth required.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, hasState := s.state.Latest()
	resp := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"device_id": s.deviceID,
		"connected": s.state.Connected(),
		"has_state": hasState,
	}
	if hasState {
		resp["last_update"] = s.state.LastUpdate().UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetState returns the merged controller view.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	state, ok := s.state.Latest()
	if !ok {
		writeUnavailable(w, "no state received from the controller yet")
		return
	}

	writeJSON(w, http.StatusOK, currentStateResponse{
		stateResponse:       s.stateView(state, s.state.LastUpdate()),
		Connected:           s.state.Connected(),
		PollIntervalSeconds: s.state.Interval().Seconds(),
	})
}

// handleRefreshState asks the controller for a snapshot. The reply arrives
// on the WebSocket feed and in the next GET /state.
func (s *Server) handleRefreshState(w http.ResponseWriter, r *http.Request) {
	if !s.state.Connected() {
		writeUnavailable(w, "controller not connected")
		return
	}
	if err := s.state.RequestUpdate(r.Context()); err != nil {
		s.writeSessionError(w, "refresh request failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// handleListAttributes returns the register map, with current values when
// a state has arrived.
func (s *Server) handleListAttributes(w http.ResponseWriter, _ *http.Request) {
	state, hasState := s.state.Latest()

	regs := reclaim.Registers()
	out := make([]attributeResponse, 0, len(regs))
	for _, reg := range regs {
		a := attributeResponse{
			Name:     reg.Attribute,
			Address:  reg.Address,
			Kind:     reg.Kind.String(),
			Writable: reg.Writable(),
			Labels:   reg.Labels,
		}
		if hasState {
			if v, err := state.Value(reg.Attribute); err == nil {
				a.Value = v
			}
		}
		out = append(out, a)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"attributes": out,
		"count":      len(out),
	})
}

// handleSetAttribute writes one attribute. The controller's acknowledgement
// arrives later as a delta, so success here means "sent", not "applied".
func (s *Server) handleSetAttribute(w http.ResponseWriter, r *http.Request) {
	attr, err := reclaim.ParseAttribute(chi.URLParam(r, "name"))
	if err != nil {
		writeNotFound(w, "unknown attribute")
		return
	}
	reg, err := reclaim.Lookup(attr)
	if err != nil {
		writeNotFound(w, "unknown attribute")
		return
	}
	if !reg.Writable() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, string(attr)+" is read-only")
		return
	}

	var req setAttributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Value) == 0 || string(req.Value) == "null" {
		writeBadRequest(w, "value is required")
		return
	}

	value, err := requestValue(reg, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if _, err := reg.Encode(value); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if !s.state.Connected() {
		writeUnavailable(w, "controller not connected")
		return
	}
	if err := s.state.SetValue(r.Context(), attr, value); err != nil {
		s.writeSessionError(w, "attribute write failed", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"attribute": attr,
		"value":     value,
		"status":    "pending",
	})
}

// requestValue converts the JSON value to the type the register encodes.
// Strings go through the register's parser, except for enum labels.
func requestValue(reg reclaim.Register, raw json.RawMessage) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	str, ok := value.(string)
	if !ok || reg.Kind == reclaim.KindEnum {
		return value, nil
	}
	return reg.ParseValue(str)
}

// writeSessionError maps coordinator and session errors to responses.
func (s *Server) writeSessionError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, coordinator.ErrNotStarted):
		writeUnavailable(w, "controller session not started")
	case errors.Is(err, reclaim.ErrPublishFailed):
		s.logger.Warn(msg, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, msg)
	case errors.Is(err, reclaim.ErrEncodeFailed), errors.Is(err, reclaim.ErrReadOnlyAttribute):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error(msg, "error", err)
		writeInternalError(w, msg)
	}
}
