package device

import "errors"

// Sentinel errors for device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose ID already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrRegistrationNotFound is returned when no registration exists for a device identifier.
	ErrRegistrationNotFound = errors.New("device: registration not found")

	// ErrInvalidStateType is returned when a ledger append carries an unknown state type.
	ErrInvalidStateType = errors.New("device: invalid state type")
)
