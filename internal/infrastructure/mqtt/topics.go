package mqtt

import (
	"fmt"
	"strings"
)

// Telemetry kinds accepted on device topics.
const (
	KindStatus  = "status"
	KindState   = "state"
	KindOnline  = "online"
	KindCommand = "command"
)

// deviceTopicSegments is the segment count of a device telemetry topic:
// <namespace>/devices/<deviceId>/<kind>.
const deviceTopicSegments = 4

// Topics builds fleet MQTT topic strings for a namespace.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{Namespace: "fleet"}
//	topics.DeviceTelemetry("dev-abc123", mqtt.KindState)
//	// Returns: "fleet/devices/dev-abc123/state"
type Topics struct {
	Namespace string
}

// DeviceTelemetry returns the topic a device publishes a telemetry kind on.
//
// Example: fleet/devices/dev-abc123/status
func (t Topics) DeviceTelemetry(deviceID, kind string) string {
	return fmt.Sprintf("%s/devices/%s/%s", t.Namespace, deviceID, kind)
}

// DeviceCommand returns the topic commands to a device are published on.
//
// Example: fleet/devices/dev-abc123/command
func (t Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/command", t.Namespace, deviceID)
}

// AllDeviceTelemetry returns a pattern matching one telemetry kind from
// every device in the namespace.
//
// Pattern: fleet/devices/+/status
func (t Topics) AllDeviceTelemetry(kind string) string {
	return fmt.Sprintf("%s/devices/+/%s", t.Namespace, kind)
}

// AllDevices returns a pattern matching every device topic in the namespace.
// The router subscribes to this and sorts messages by kind itself.
//
// Pattern: fleet/devices/+/+
func (t Topics) AllDevices() string {
	return fmt.Sprintf("%s/devices/+/+", t.Namespace)
}

// ServiceStatus returns the topic Fleetcore publishes its own online or
// offline status on, including the Last Will message.
//
// Example: fleet/fleetcore/status
func (t Topics) ServiceStatus() string {
	return fmt.Sprintf("%s/fleetcore/status", t.Namespace)
}

// ParseDeviceTopic extracts the device ID and telemetry kind from a device
// topic. It returns ok=false for topics outside this namespace, topics with
// the wrong segment count, and empty device or kind segments. Callers drop
// such messages.
func (t Topics) ParseDeviceTopic(topic string) (deviceID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != deviceTopicSegments {
		return "", "", false
	}
	if parts[0] != t.Namespace || parts[1] != "devices" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
