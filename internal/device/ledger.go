package device

import (
	"context"
	"time"
)

// Observation is one key/value pair from a state telemetry message, already
// classified and canonically encoded.
type Observation struct {
	Key   string
	Value string
	Type  StateType
}

// StateLedger stores and retrieves the append-only per-device state history.
// Rows are never updated or deleted; the current value of a key is the
// newest row for that (device, key) pair.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateLedger interface {
	// Append records a single state observation.
	Append(ctx context.Context, deviceID string, obs Observation, at time.Time) error

	// AppendBurst records every observation from one state message and
	// refreshes the device's last-seen timestamp, all in one transaction.
	// A failure partway rolls back the whole burst so redelivered messages
	// never leave half-applied state.
	AppendBurst(ctx context.Context, deviceID string, observations []Observation, at time.Time) error

	// Latest returns the newest observation for a (device, key) pair, or
	// a nil entry and no error when the key has never been reported.
	Latest(ctx context.Context, deviceID, key string) (*DeviceState, error)

	// LatestAll returns the newest observation for every key the device
	// has ever reported, ordered by key.
	LatestAll(ctx context.Context, deviceID string) ([]DeviceState, error)

	// History returns recent observations for a (device, key) pair, newest
	// first. An empty key returns observations across all keys.
	History(ctx context.Context, deviceID, key string, limit int) ([]DeviceState, error)
}
