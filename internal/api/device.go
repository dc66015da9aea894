package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/plc-remote/internal/device"
	"github.com/nerrad567/plc-remote/internal/onboarding"
	"github.com/nerrad567/plc-remote/internal/session"
)

// maxProbeTimeout caps the timeout_ms a client may request.
const maxProbeTimeout = time.Minute

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	DeviceID       device.Identifier `json:"device_id,omitempty"`
	Bound          bool              `json:"bound"`
	Phase          session.Phase     `json:"phase"`
	Connected      bool              `json:"connected"`
	LastError      string            `json:"last_error,omitempty"`
	State          device.State      `json:"state"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DecodeFailures uint64            `json:"decode_failures"`
	Layout         device.Layout     `json:"layout"`
}

// RelayRequest is the body of PUT /relays/{index}.
type RelayRequest struct {
	State *bool `json:"state"`
}

// ProbeRequest is the body of POST /probe.
type ProbeRequest struct {
	DeviceID  string `json:"device_id"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// BindRequest is the body of POST /device.
type BindRequest struct {
	DeviceID  string `json:"device_id"`
	SkipProbe bool   `json:"skip_probe,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func probeTimeout(ms int) (time.Duration, bool) {
	d := time.Duration(ms) * time.Millisecond
	return d, ms >= 0 && d <= maxProbeTimeout
}

// handleStatus returns the binding, session phase and latest snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.controller.Status()
	resp := StatusResponse{
		DeviceID:       st.DeviceID,
		Bound:          st.Bound,
		Phase:          st.Phase,
		Connected:      st.Connected,
		State:          st.State,
		UpdatedAt:      st.UpdatedAt,
		DecodeFailures: st.DecodeFailures,
		Layout:         s.controller.Layout(),
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetRelay publishes a relay command. The response is 202 Accepted;
// the state change itself arrives later as a state.changed event.
func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "relay index must be an integer")
		return
	}

	var req RelayRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == nil {
		writeBadRequest(w, "state field is required")
		return
	}

	cmd, err := device.NewCommand(s.controller.Layout(), index, *req.State)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.controller.IssueCommand(r.Context(), cmd); err != nil {
		if !errors.Is(err, session.ErrNotConnected) {
			s.logger.Warn("relay command failed", "relay", index, "error", err, "request_id", requestID(r.Context()))
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"relay": cmd.Relay,
		"state": cmd.On,
	})
}

// handleProbe runs a one-off presence probe without binding.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	timeout, ok := probeTimeout(req.TimeoutMS)
	if !ok {
		writeBadRequest(w, "timeout_ms must be between 0 and 60000")
		return
	}

	result, err := s.controller.Probe(r.Context(), req.DeviceID, timeout)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleBindDevice runs the onboarding flow for a device.
func (s *Server) handleBindDevice(w http.ResponseWriter, r *http.Request) {
	var req BindRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	timeout, ok := probeTimeout(req.TimeoutMS)
	if !ok {
		writeBadRequest(w, "timeout_ms must be between 0 and 60000")
		return
	}

	result, err := s.onboarding.Connect(r.Context(), req.DeviceID, onboarding.ConnectOptions{
		SkipProbe:    req.SkipProbe,
		ProbeTimeout: timeout,
	})
	if err != nil {
		s.logger.Info("device onboarding refused", "device_id", req.DeviceID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUnbindDevice closes the standing session.
func (s *Server) handleUnbindDevice(w http.ResponseWriter, _ *http.Request) {
	s.controller.Unbind()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecent(w http.ResponseWriter, r *http.Request) {
	devices, err := s.onboarding.Recent(r.Context())
	if err != nil {
		s.logger.Error("listing recent devices failed", "error", err)
		writeInternalError(w, "failed to list recent devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleForgetRecent(w http.ResponseWriter, r *http.Request) {
	if err := s.onboarding.Forget(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
