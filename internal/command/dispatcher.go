// Package command publishes fire-and-forget commands to devices.
//
// Success means the transport accepted the message for delivery, not that
// the device received it. Callers needing confirmation correlate a
// subsequent status or state telemetry message themselves; the protocol
// deliberately solicits no acknowledgement.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ironvale/fleetcore/internal/audit"
	"github.com/ironvale/fleetcore/internal/infrastructure/logging"
	"github.com/ironvale/fleetcore/internal/infrastructure/mqtt"
)

// Envelope is the command wire format, published to
// <namespace>/devices/<deviceId>/command.
type Envelope struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  string         `json:"timestamp"`
}

// Publisher is the transport surface the dispatcher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Dispatcher sends commands to devices.
type Dispatcher struct {
	publisher Publisher
	topics    mqtt.Topics
	audits    audit.Repository
	logger    *logging.Logger
	qos       byte
}

// NewDispatcher creates a command dispatcher. The audit repository may be
// nil; audit writes are best-effort.
func NewDispatcher(publisher Publisher, topics mqtt.Topics, audits audit.Repository, logger *logging.Logger, qos byte) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		topics:    topics,
		audits:    audits,
		logger:    logger.With("component", "command"),
		qos:       qos,
	}
}

// Send publishes a command envelope to the device's command topic.
//
// parameters may be nil; the envelope always carries an object so device
// firmware can decode a fixed shape. The issue timestamp is RFC 3339 UTC.
func (d *Dispatcher) Send(ctx context.Context, deviceID, commandName string, parameters map[string]any) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if commandName == "" {
		return fmt.Errorf("command is required")
	}
	if parameters == nil {
		parameters = map[string]any{}
	}

	envelope := Envelope{
		Command:    commandName,
		Parameters: parameters,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding command envelope: %w", err)
	}

	topic := d.topics.DeviceCommand(deviceID)
	if err := d.publisher.Publish(topic, payload, d.qos, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}

	d.logger.Debug("command dispatched", "device_id", deviceID, "command", commandName)
	d.recordAudit(ctx, deviceID, commandName)

	return nil
}

// recordAudit writes a command_sent entry, best-effort.
func (d *Dispatcher) recordAudit(ctx context.Context, deviceID, commandName string) {
	if d.audits == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:     audit.ActionCommandSent,
		EntityType: audit.EntityDevice,
		EntityID:   deviceID,
		Source:     "command",
		Details:    map[string]any{"command": commandName},
	}
	if err := d.audits.Create(ctx, entry); err != nil {
		d.logger.Warn("audit log write failed", "device_id", deviceID, "error", err)
	}
}
