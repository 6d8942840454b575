package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStateNumber mirrors a numeric state observation to InfluxDB.
//
// This is the primary method for recording device telemetry over time.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "dev-abc123")
//   - key: The state key (e.g., "temperature", "brightness")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteStateNumber("dev-abc123", "temperature", 21.5)
func (c *Client) WriteStateNumber(deviceID, key string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"state_key": key,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStateBool mirrors a boolean state observation to InfluxDB.
//
// Booleans are stored as 0/1 so Flux queries can aggregate them
// alongside numeric series.
func (c *Client) WriteStateBool(deviceID, key string, value bool) {
	if !c.IsConnected() {
		return
	}

	var v float64
	if value {
		v = 1
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"state_key": key,
		},
		map[string]interface{}{
			"value": v,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePresence records a device presence transition.
//
// Used for uptime reporting and connectivity dashboards.
func (c *Client) WritePresence(deviceID string, online bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_presence",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"online": online,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("ingest_stats",
//	    map[string]string{"fleet": "fleet-001"},
//	    map[string]interface{}{"messages": 1042, "dropped": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
