// Package device is the identity store at the heart of Fleetcore.
//
// It owns the three durable shapes every other component leans on:
//
//	Registration  - a device's identity record before and through fleet
//	                membership (secret hash, lifecycle status, token)
//	Device        - the operational record for a paired device
//	DeviceState   - the append-only per-device state observation ledger
//
// # Ownership
//
// The tables are shared but never mutated outside their owning component:
//
//	Registration, Batch   → provisioning workflow
//	Device, DeviceState   → telemetry router (provisioning creates the
//	                        initial Device row on pairing, the offline
//	                        sweep clears is_online)
//
// This is a design discipline rather than a mechanical constraint; it keeps
// the lifecycle state machine auditable.
//
// # Resolution and locking
//
// The Store wraps the repository with an in-memory cache for the telemetry
// hot path and a sharded per-device lock table:
//
//	d, err := store.Resolve(ctx, deviceID)
//
//	unlock := store.LockDevice(deviceID)
//	defer unlock()
//
// Concurrent messages for the same device are serialised; different devices
// proceed in parallel on separate shards.
//
// # The state ledger
//
// DeviceState rows are append-only. "Current value of key K for device D"
// is the newest row for that pair. AppendBurst writes one row per payload
// key and refreshes last_seen exactly once, inside a single transaction, so
// a redelivered message can never leave a half-applied burst.
package device
