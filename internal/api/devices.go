package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ironvale/fleetcore/internal/device"
)

// handleListDevices returns every operational device record.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by identifier.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.store.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleGetDeviceState returns the newest observation for every key the
// device has reported: its current state as reconstructed from the ledger.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to resolve device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device state")
		return
	}

	states, err := s.ledger.LatestAll(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read device state", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"states":    states,
		"count":     len(states),
	})
}

// handleGetStateHistory returns recent ledger rows for a device, newest
// first.
//
// Query parameters:
//   - key: restrict to one state key (optional)
//   - limit: max results (default 50, max 200)
func (s *Server) handleGetStateHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	history, err := s.ledger.History(r.Context(), id, q.Get("key"), limit)
	if err != nil {
		s.logger.Error("failed to read state history", "device_id", id, "error", err)
		writeInternalError(w, "failed to get state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   history,
		"count":     len(history),
	})
}

// commandRequest is the body for POST /devices/{id}/command.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleSendCommand publishes a command to the device's command topic.
// Dispatch is fire-and-forget: a 202 means the transport accepted the
// message, not that the device acted on it.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeInternalError(w, "command dispatch not configured")
		return
	}

	id := chi.URLParam(r, "id")

	if _, err := s.store.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to resolve device", "device_id", id, "error", err)
		writeInternalError(w, "failed to send command")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if err := s.dispatcher.Send(r.Context(), id, req.Command, req.Parameters); err != nil {
		s.logger.Error("command dispatch failed", "device_id", id, "command", req.Command, "error", err)
		writeInternalError(w, "failed to send command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"command":   req.Command,
		"status":    "dispatched",
	})
}
