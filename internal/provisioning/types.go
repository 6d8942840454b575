package provisioning

import (
	"time"

	"github.com/ironvale/fleetcore/internal/device"
)

// BatchStatus represents where a provisioning batch sits in its lifecycle.
type BatchStatus string

// Batch lifecycle states. A batch is immutable once completed or failed.
const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Batch groups a set of registrations created together for factory or
// installer workflows.
//
// Invariant: ProvisionedDevices <= TotalDevices. A batch starts pending
// (failed when no member registration could be created), moves to
// processing as members get tokens issued, and completes when
// ProvisionedDevices reaches TotalDevices.
type Batch struct {
	// ID is the batch identifier (UUID).
	ID string `json:"id"`

	// Model is the target hardware model for the batch.
	Model string `json:"model"`

	// FirmwareVersion is the firmware the batch ships with.
	FirmwareVersion string `json:"firmware_version"`

	// TotalDevices is the number of member registrations created.
	TotalDevices int `json:"total_devices"`

	// ProvisionedDevices counts members that have had tokens issued.
	ProvisionedDevices int `json:"provisioned_devices"`

	// Status is the batch lifecycle state.
	Status BatchStatus `json:"status"`

	// CreatedBy references the user who created the batch.
	CreatedBy string `json:"created_by"`

	// InstallerID optionally references the installer assigned to the batch.
	InstallerID *string `json:"installer_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceInfo describes a device being registered.
type DeviceInfo struct {
	// DeviceID is optional; a UUID is generated when empty.
	DeviceID string `json:"device_id,omitempty"`

	// MACAddress is required and must be unique across the fleet.
	MACAddress string `json:"mac_address"`

	// Model is the hardware model designation.
	Model string `json:"model"`

	// FirmwareVersion is the firmware the device ships with.
	FirmwareVersion string `json:"firmware_version"`

	// Manufacturer is the hardware vendor, persisted on the registration
	// and carried into QR payloads.
	Manufacturer string `json:"manufacturer,omitempty"`

	// LocationID optionally places the device at registration time.
	LocationID *string `json:"location_id,omitempty"`
}

// RegistrationResult is returned by Register. Secret is the cleartext
// pairing secret, available exactly once; only its Argon2id hash is stored.
type RegistrationResult struct {
	Registration *device.Registration `json:"registration"`
	Secret       string               `json:"secret"`
}

// QRCodeData is the payload a QR/report rendering collaborator consumes.
// Rendering format is out of scope; this is the data contract only.
type QRCodeData struct {
	DeviceID      string `json:"device_id"`
	Token         string `json:"token"`
	PublicKeyHash string `json:"public_key_hash"`
	Model         string `json:"model"`
	Manufacturer  string `json:"manufacturer,omitempty"`
}

// TokenGrant is returned by IssueProvisioningToken.
type TokenGrant struct {
	Token    string               `json:"token"`
	QRCode   QRCodeData           `json:"qr_code"`
	IssuedAt time.Time            `json:"issued_at"`
	Device   *device.Registration `json:"registration"`
}

// BatchSpec describes a batch to create.
type BatchSpec struct {
	Model           string  `json:"model"`
	FirmwareVersion string  `json:"firmware_version"`
	CreatedBy       string  `json:"created_by"`
	InstallerID     *string `json:"installer_id,omitempty"`
}

// BatchMemberResult reports the outcome for one member of a batch creation.
// Exactly one of Registration or Error is set. Secret accompanies a
// successful member, available exactly once.
type BatchMemberResult struct {
	MACAddress   string               `json:"mac_address"`
	Registration *device.Registration `json:"registration,omitempty"`
	Secret       string               `json:"secret,omitempty"`
	Error        string               `json:"error,omitempty"`
}
