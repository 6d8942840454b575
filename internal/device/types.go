package device

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationStatus represents where a device sits in its lifecycle.
type RegistrationStatus string

// Registration lifecycle states. Transitions only move forward:
// registered → provisioned → paired. Offline is set by the sweep when a
// paired device stops reporting; the next telemetry message clears it.
const (
	StatusRegistered  RegistrationStatus = "registered"
	StatusProvisioned RegistrationStatus = "provisioned"
	StatusPaired      RegistrationStatus = "paired"
	StatusOffline     RegistrationStatus = "offline"
)

// StateType classifies a single state observation.
type StateType string

// State value types inferred on ingest. The classifier precedence is
// boolean > number > json > string and is part of the wire contract.
const (
	TypeBoolean StateType = "boolean"
	TypeNumber  StateType = "number"
	TypeString  StateType = "string"
	TypeJSON    StateType = "json"
)

// Valid reports whether t is one of the recognised state types.
func (t StateType) Valid() bool {
	switch t {
	case TypeBoolean, TypeNumber, TypeString, TypeJSON:
		return true
	}
	return false
}

// Registration is a device's identity record before and through fleet
// membership. The secret is stored only as an Argon2id hash; the cleartext
// is returned exactly once, at registration time.
type Registration struct {
	// ID is the registration row identifier (UUID).
	ID string `json:"id"`

	// DeviceID is the stable device identifier, immutable once created.
	DeviceID string `json:"device_id"`

	// MACAddress is the device's hardware address, unique across the fleet.
	MACAddress string `json:"mac_address"`

	// SecretHash is the Argon2id PHC-format hash of the pairing secret.
	// Never serialised to callers.
	SecretHash string `json:"-"`

	// Model is the hardware model designation.
	Model string `json:"model"`

	// Manufacturer is the hardware vendor, carried into the QR payload
	// when a provisioning token is issued.
	Manufacturer string `json:"manufacturer,omitempty"`

	// FirmwareVersion is the firmware the device shipped with.
	FirmwareVersion string `json:"firmware_version"`

	// Status is the lifecycle state.
	Status RegistrationStatus `json:"status"`

	// Provisioned is set when a provisioning token has been issued.
	Provisioned bool `json:"provisioned"`

	// Paired is set exactly once, when a caller presents the correct secret.
	Paired bool `json:"paired"`

	// ProvisioningToken is the one-time token, cleared when pairing consumes it.
	ProvisioningToken *string `json:"-"`

	// UserID references the owning user once paired.
	UserID *string `json:"user_id,omitempty"`

	// LocationID optionally places the device.
	LocationID *string `json:"location_id,omitempty"`

	// BatchID references the provisioning batch this registration belongs to.
	BatchID *string `json:"batch_id,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	ProvisionedAt *time.Time `json:"provisioned_at,omitempty"`
	PairedAt      *time.Time `json:"paired_at,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
}

// Config is free-form device configuration stored as JSON.
type Config map[string]any

// Device is the operational record for a paired device. It is decoupled
// from Registration so re-pairing or replacement hardware can be modelled
// without losing historical state.
//
// IsOnline is only ever set by the telemetry router and the offline sweep,
// never by direct user edits.
type Device struct {
	// ID matches the registration's device identifier.
	ID string `json:"id"`

	// IsOnline reflects the most recent telemetry or sweep decision.
	IsOnline bool `json:"is_online"`

	// IsActive is cleared when a device is administratively disabled.
	IsActive bool `json:"is_active"`

	// LastSeen is the timestamp of the last telemetry message.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// FirmwareVersion is updated from status telemetry when present.
	FirmwareVersion *string `json:"firmware_version,omitempty"`

	// Config is free-form configuration.
	Config Config `json:"config"`

	// UserID references the owning user.
	UserID *string `json:"user_id,omitempty"`

	// DeviceType optionally classifies the hardware.
	DeviceType *string `json:"device_type,omitempty"`

	// LocationID optionally places the device.
	LocationID *string `json:"location_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceState is an immutable, timestamped observation of one state key for
// one device. Rows are never updated or deleted; the current value of a key
// is the newest row for that (device, key) pair.
type DeviceState struct {
	// ID is the auto-incremented primary key for the ledger row.
	ID int64 `json:"id"`

	// DeviceID is the device this observation belongs to.
	DeviceID string `json:"device_id"`

	// Key is the state key reported by the device (e.g. "power").
	Key string `json:"state_key"`

	// Value is the canonical string encoding of the observed value.
	Value string `json:"state_value"`

	// Type classifies Value's encoding.
	Type StateType `json:"state_type"`

	// CreatedAt is the observation timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// DeepCopy returns a copy of the device with no shared mutable state.
// The Store hands out copies so callers can never mutate the cache.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	clone := *d

	if d.LastSeen != nil {
		t := *d.LastSeen
		clone.LastSeen = &t
	}
	if d.FirmwareVersion != nil {
		s := *d.FirmwareVersion
		clone.FirmwareVersion = &s
	}
	if d.UserID != nil {
		s := *d.UserID
		clone.UserID = &s
	}
	if d.DeviceType != nil {
		s := *d.DeviceType
		clone.DeviceType = &s
	}
	if d.LocationID != nil {
		s := *d.LocationID
		clone.LocationID = &s
	}
	if d.Config != nil {
		clone.Config = make(Config, len(d.Config))
		for k, v := range d.Config {
			clone.Config[k] = v
		}
	}

	return &clone
}

// GenerateID creates a new device identifier.
func GenerateID() string {
	return uuid.New().String()
}
