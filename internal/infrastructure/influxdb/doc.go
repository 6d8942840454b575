// Package influxdb provides the optional time-series mirror for Fleetcore.
//
// It wraps the official influxdb-client-go v2 library with Fleetcore-specific
// patterns for connection management, telemetry mirroring, and health checks.
//
// # Purpose
//
// The SQLite state ledger is the source of truth for device state. This
// package mirrors numeric and boolean observations into InfluxDB so
// dashboards can query long time ranges without scanning the ledger:
//   - device_state: numeric/boolean state values tagged by device and key
//   - device_presence: online/offline transitions
//
// The mirror is best-effort. Write failures are reported via callback and
// never block telemetry ingestion.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror switched off, continue without it
//	}
//	defer client.Close()
//
//	client.WriteStateNumber("dev-abc123", "temperature", 21.5)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
package influxdb
