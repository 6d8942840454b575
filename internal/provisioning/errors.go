package provisioning

import "errors"

// Sentinel errors for provisioning operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDuplicateDevice is returned when a registration's MAC address or
	// device identifier already exists.
	ErrDuplicateDevice = errors.New("provisioning: duplicate device")

	// ErrAlreadyProvisioned is returned when issuing a token for a
	// registration that already has one.
	ErrAlreadyProvisioned = errors.New("provisioning: already provisioned")

	// ErrAlreadyPaired is returned when pairing a registration that is
	// already paired.
	ErrAlreadyPaired = errors.New("provisioning: already paired")

	// ErrAuthenticationFailed is returned when the presented secret does not
	// match. The same value is returned for an unknown device identifier so
	// callers cannot enumerate valid devices.
	ErrAuthenticationFailed = errors.New("provisioning: authentication failed")

	// ErrBatchNotFound is returned when a batch does not exist.
	ErrBatchNotFound = errors.New("provisioning: batch not found")

	// ErrBatchCompleted is returned when incrementing the provisioned
	// counter of a batch whose members all hold tokens already.
	ErrBatchCompleted = errors.New("provisioning: batch already completed")

	// ErrBatchEmpty is returned when CreateBatch is called with no members.
	ErrBatchEmpty = errors.New("provisioning: batch has no member devices")

	// ErrValidation is returned when input fails validation. Wrapped errors
	// carry the field detail.
	ErrValidation = errors.New("provisioning: validation failed")
)
