package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ironvale/fleetcore/internal/audit"
	"github.com/ironvale/fleetcore/internal/device"
	"github.com/ironvale/fleetcore/internal/infrastructure/logging"
)

// Workflow drives the device identity lifecycle: register, issue a
// provisioning token, pair. It is the only writer of registrations and
// batches.
type Workflow struct {
	repo   Repository
	audits audit.Repository
	logger *logging.Logger

	// decoyHash equalises Pair timing when the device identifier is
	// unknown: the same Argon2id verification runs either way.
	decoyHash string
}

// NewWorkflow creates a provisioning workflow. The audit repository may be
// nil; audit writes are best-effort and never fail the operation.
func NewWorkflow(repo Repository, audits audit.Repository, logger *logging.Logger) (*Workflow, error) {
	decoySecret, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating decoy secret: %w", err)
	}
	decoyHash, err := HashSecret(decoySecret)
	if err != nil {
		return nil, fmt.Errorf("hashing decoy secret: %w", err)
	}

	return &Workflow{
		repo:      repo,
		audits:    audits,
		logger:    logger,
		decoyHash: decoyHash,
	}, nil
}

// Register creates a new registration for a single device.
//
// The returned RegistrationResult carries the cleartext pairing secret;
// it is not recoverable afterwards.
func (w *Workflow) Register(ctx context.Context, info DeviceInfo) (*RegistrationResult, error) {
	if info.MACAddress == "" {
		return nil, fmt.Errorf("%w: mac_address is required", ErrValidation)
	}
	if info.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrValidation)
	}

	reg, secret, err := w.buildRegistration(info, nil)
	if err != nil {
		return nil, err
	}

	if err := w.repo.CreateRegistration(ctx, reg); err != nil {
		return nil, err
	}

	w.recordAudit(ctx, audit.ActionRegistered, audit.EntityRegistration, reg.ID, "", map[string]any{
		"device_id":   reg.DeviceID,
		"mac_address": reg.MACAddress,
		"model":       reg.Model,
	})

	return &RegistrationResult{Registration: reg, Secret: secret}, nil
}

// IssueProvisioningToken moves a registration to provisioned and returns the
// one-time token together with the QR payload an installer scans.
//
// Returns ErrAlreadyProvisioned if the registration already holds a token
// and ErrAlreadyPaired if pairing has already completed.
func (w *Workflow) IssueProvisioningToken(ctx context.Context, registrationID string) (*TokenGrant, error) {
	reg, err := w.repo.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.Paired {
		return nil, ErrAlreadyPaired
	}

	token, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating provisioning token: %w", err)
	}

	now := time.Now().UTC()
	if err := w.repo.MarkProvisioned(ctx, reg.ID, token, now); err != nil {
		return nil, err
	}

	reg.Status = device.StatusProvisioned
	reg.Provisioned = true
	reg.ProvisioningToken = &token
	reg.ProvisionedAt = &now

	if reg.BatchID != nil {
		switch err := w.repo.IncrementProvisioned(ctx, *reg.BatchID); {
		case errors.Is(err, ErrBatchCompleted):
			w.logger.Warn("token issued for completed batch",
				"batch_id", *reg.BatchID,
				"registration_id", reg.ID,
			)
		case err != nil:
			w.logger.Warn("batch provisioned count not incremented",
				"batch_id", *reg.BatchID,
				"registration_id", reg.ID,
				"error", err,
			)
		}
	}

	w.recordAudit(ctx, audit.ActionTokenIssued, audit.EntityRegistration, reg.ID, "", map[string]any{
		"device_id": reg.DeviceID,
	})

	return &TokenGrant{
		Token: token,
		QRCode: QRCodeData{
			DeviceID:      reg.DeviceID,
			Token:         token,
			PublicKeyHash: IdentityFingerprint(reg.DeviceID, reg.MACAddress),
			Model:         reg.Model,
			Manufacturer:  reg.Manufacturer,
		},
		IssuedAt: now,
		Device:   reg,
	}, nil
}

// Pair authenticates a device by its pairing secret and completes the
// lifecycle: the registration flips to paired, the token is consumed, and
// the operational Device record is created.
//
// An unknown device identifier and a wrong secret return the same
// ErrAuthenticationFailed, after the same amount of hashing work. Under
// concurrent attempts for one device at most one call succeeds; the rest
// get ErrAlreadyPaired.
func (w *Workflow) Pair(ctx context.Context, deviceID, secret, userID string) (*device.Device, error) {
	reg, err := w.repo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrRegistrationNotFound) {
			// Burn the same verification cost as the known-device path.
			_, _ = VerifySecret(secret, w.decoyHash)
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	ok, err := VerifySecret(secret, reg.SecretHash)
	if err != nil || !ok {
		return nil, ErrAuthenticationFailed
	}

	if reg.Paired {
		return nil, ErrAlreadyPaired
	}

	d, err := w.repo.CompletePairing(ctx, deviceID, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	w.recordAudit(ctx, audit.ActionPaired, audit.EntityDevice, deviceID, userID, map[string]any{
		"registration_id": reg.ID,
	})

	return d, nil
}

// CreateBatch registers a set of devices in one transaction.
//
// Members that fail (duplicate MAC, missing fields) are reported in the
// returned results without aborting the rest: the batch commits with
// TotalDevices equal to the number of members actually created. A batch
// where every member failed commits with status failed.
func (w *Workflow) CreateBatch(ctx context.Context, spec BatchSpec, members []DeviceInfo) (*Batch, []BatchMemberResult, error) {
	if len(members) == 0 {
		return nil, nil, ErrBatchEmpty
	}
	if spec.Model == "" {
		return nil, nil, fmt.Errorf("%w: model is required", ErrValidation)
	}

	batch := &Batch{
		ID:              device.GenerateID(),
		Model:           spec.Model,
		FirmwareVersion: spec.FirmwareVersion,
		Status:          BatchPending,
		CreatedBy:       spec.CreatedBy,
		InstallerID:     spec.InstallerID,
	}

	results := make([]BatchMemberResult, len(members))

	// Members that fail validation never reach the database; regIndex maps
	// the inserted slice back to its member position.
	var regs []*device.Registration
	var secrets []string
	var regIndex []int

	for i, m := range members {
		results[i].MACAddress = m.MACAddress
		if m.MACAddress == "" {
			results[i].Error = "mac_address is required"
			continue
		}

		m.Model = spec.Model
		m.FirmwareVersion = spec.FirmwareVersion

		reg, secret, err := w.buildRegistration(m, &batch.ID)
		if err != nil {
			return nil, nil, err
		}

		regs = append(regs, reg)
		secrets = append(secrets, secret)
		regIndex = append(regIndex, i)
	}

	memberErrs, err := w.repo.CreateBatch(ctx, batch, regs)
	if err != nil {
		return nil, nil, err
	}

	for j, memberErr := range memberErrs {
		i := regIndex[j]
		if memberErr != nil {
			results[i].Error = memberErr.Error()
			continue
		}
		results[i].Registration = regs[j]
		results[i].Secret = secrets[j]
	}

	w.recordAudit(ctx, audit.ActionBatchCreated, audit.EntityBatch, batch.ID, spec.CreatedBy, map[string]any{
		"model":         batch.Model,
		"requested":     len(members),
		"total_devices": batch.TotalDevices,
		"status":        string(batch.Status),
	})

	return batch, results, nil
}

// GetBatch retrieves a batch by identifier.
func (w *Workflow) GetBatch(ctx context.Context, id string) (*Batch, error) {
	return w.repo.GetBatch(ctx, id)
}

// ListBatches retrieves all batches, newest first.
func (w *Workflow) ListBatches(ctx context.Context) ([]Batch, error) {
	return w.repo.ListBatches(ctx)
}

// GetRegistration retrieves a registration by its row identifier.
func (w *Workflow) GetRegistration(ctx context.Context, id string) (*device.Registration, error) {
	return w.repo.GetByID(ctx, id)
}

// buildRegistration constructs a registration with a fresh secret. The
// cleartext secret is returned alongside; only the hash is stored.
func (w *Workflow) buildRegistration(info DeviceInfo, batchID *string) (*device.Registration, string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", fmt.Errorf("generating pairing secret: %w", err)
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, "", fmt.Errorf("hashing pairing secret: %w", err)
	}

	deviceID := info.DeviceID
	if deviceID == "" {
		deviceID = device.GenerateID()
	}

	return &device.Registration{
		ID:              device.GenerateID(),
		DeviceID:        deviceID,
		MACAddress:      strings.ToLower(info.MACAddress),
		SecretHash:      hash,
		Model:           info.Model,
		Manufacturer:    info.Manufacturer,
		FirmwareVersion: info.FirmwareVersion,
		Status:          device.StatusRegistered,
		LocationID:      info.LocationID,
		BatchID:         batchID,
	}, secret, nil
}

// recordAudit writes an audit entry, best-effort.
func (w *Workflow) recordAudit(ctx context.Context, action, entityType, entityID, userID string, details map[string]any) {
	if w.audits == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     "provisioning",
		Details:    details,
	}
	if err := w.audits.Create(ctx, entry); err != nil {
		w.logger.Warn("audit log write failed", "action", action, "error", err)
	}
}
