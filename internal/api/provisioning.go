package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ironvale/fleetcore/internal/provisioning"
)

// handleRegisterDevice registers a single device and returns the registration
// together with the cleartext pairing secret. The secret is shown exactly
// once; only its hash is stored.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var info provisioning.DeviceInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.workflow.Register(r.Context(), info)
	if err != nil {
		s.logger.Warn("device registration failed", "mac", info.MACAddress, "error", err)
		writeProvisioningError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleGetRegistration returns a registration by its row identifier.
func (s *Server) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reg, err := s.workflow.GetRegistration(r.Context(), id)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// handleIssueToken issues the one-time provisioning token for a registration
// and returns it with the QR payload for installer tooling.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	grant, err := s.workflow.IssueProvisioningToken(r.Context(), id)
	if err != nil {
		s.logger.Warn("token issue failed", "registration_id", id, "error", err)
		writeProvisioningError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

// pairRequest is the body for POST /pair.
type pairRequest struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

// handlePair completes pairing: the caller presents the device identifier
// and pairing secret, and on success the operational device record is
// created and returned.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.Secret == "" {
		writeBadRequest(w, "device_id and secret are required")
		return
	}

	identity := identityFrom(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	dev, err := s.workflow.Pair(r.Context(), req.DeviceID, req.Secret, identity.UserID)
	if err != nil {
		s.logger.Warn("pairing failed", "device_id", req.DeviceID, "error", err)
		writeProvisioningError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// createBatchRequest is the body for POST /batches.
type createBatchRequest struct {
	Model           string                    `json:"model"`
	FirmwareVersion string                    `json:"firmware_version"`
	InstallerID     *string                   `json:"installer_id,omitempty"`
	Devices         []provisioning.DeviceInfo `json:"devices"`
}

// createBatchResponse pairs the created batch with per-member outcomes.
type createBatchResponse struct {
	Batch   *provisioning.Batch              `json:"batch"`
	Members []provisioning.BatchMemberResult `json:"members"`
}

// handleCreateBatch creates a provisioning batch. Member failures do not
// fail the batch; each member's outcome is reported individually.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	identity := identityFrom(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	spec := provisioning.BatchSpec{
		Model:           req.Model,
		FirmwareVersion: req.FirmwareVersion,
		CreatedBy:       identity.UserID,
		InstallerID:     req.InstallerID,
	}

	batch, members, err := s.workflow.CreateBatch(r.Context(), spec, req.Devices)
	if err != nil {
		s.logger.Warn("batch creation failed", "model", req.Model, "error", err)
		writeProvisioningError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createBatchResponse{Batch: batch, Members: members})
}

// handleListBatches returns all provisioning batches, newest first.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.workflow.ListBatches(r.Context())
	if err != nil {
		s.logger.Error("failed to list batches", "error", err)
		writeInternalError(w, "failed to list batches")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}

// handleGetBatch returns a single provisioning batch.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := s.workflow.GetBatch(r.Context(), id)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, batch)
}
