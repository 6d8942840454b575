package telemetry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ironvale/fleetcore/internal/device"
	"github.com/ironvale/fleetcore/internal/events"
	"github.com/ironvale/fleetcore/internal/infrastructure/influxdb"
	"github.com/ironvale/fleetcore/internal/infrastructure/logging"
	"github.com/ironvale/fleetcore/internal/infrastructure/mqtt"
)

// defaultMessageTimeout bounds per-message processing when the config
// value is missing.
const defaultMessageTimeout = 5 * time.Second

// Subscriber is the transport surface the router needs. The connection
// lifecycle (reconnect, subscription restore) lives behind it; the router
// holds no connection state.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Router ingests device telemetry.
//
// Every inbound message runs the same pipeline: parse the topic, parse the
// payload, resolve the device, dispatch by kind. Failures are terminal
// per-message, logged and dropped, never propagated, because there is no
// caller to report to and the device's next periodic message supersedes a
// lost one.
type Router struct {
	store  *device.Store
	repo   device.Repository
	ledger device.StateLedger
	hub    *events.Hub
	influx *influxdb.Client
	logger *logging.Logger

	topics  mqtt.Topics
	timeout time.Duration
}

// Config carries the router's collaborators. Hub and Influx are optional.
type Config struct {
	Store  *device.Store
	Repo   device.Repository
	Ledger device.StateLedger
	Hub    *events.Hub
	Influx *influxdb.Client
	Logger *logging.Logger

	Topics mqtt.Topics

	// MessageTimeout is the hard per-message processing deadline. On
	// expiry the message is dropped and logged, never retried.
	MessageTimeout time.Duration
}

// NewRouter creates a telemetry router.
func NewRouter(cfg Config) *Router {
	timeout := cfg.MessageTimeout
	if timeout <= 0 {
		timeout = defaultMessageTimeout
	}

	return &Router{
		store:   cfg.Store,
		repo:    cfg.Repo,
		ledger:  cfg.Ledger,
		hub:     cfg.Hub,
		influx:  cfg.Influx,
		logger:  cfg.Logger.With("component", "telemetry"),
		topics:  cfg.Topics,
		timeout: timeout,
	}
}

// Start subscribes to all three telemetry kinds for every device. The
// subscriber restores these on reconnect; Start never needs calling again.
func (r *Router) Start(sub Subscriber, qos byte) error {
	for _, kind := range []string{mqtt.KindStatus, mqtt.KindState, mqtt.KindOnline} {
		if err := sub.Subscribe(r.topics.AllDeviceTelemetry(kind), qos, r.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

// HandleMessage is the entry point for one inbound message. It always
// returns nil: telemetry failures are logged, not propagated.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	deviceID, kind, ok := r.topics.ParseDeviceTopic(topic)
	if !ok {
		// Non-conforming topics are not an error; transports echo all
		// sorts of shapes.
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// Serialise handling per device; different devices proceed in
	// parallel on separate lock shards.
	unlock := r.store.LockDevice(deviceID)
	defer unlock()

	d, err := r.store.Resolve(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			// Unpaired or stale device; its telemetry is not persisted.
			return nil
		}
		r.logger.Error("device resolve failed", "device_id", deviceID, "error", err)
		return nil
	}

	switch kind {
	case mqtt.KindStatus:
		r.handleStatus(ctx, d, payload)
	case mqtt.KindState:
		r.handleState(ctx, d, payload)
	case mqtt.KindOnline:
		r.handleOnline(ctx, d, payload)
	default:
		// command and any future kinds are not telemetry
	}

	return nil
}

// handleStatus updates the online flag, last-seen, and firmware version if
// the payload carries one. The single UPDATE is last-write-wins, so a
// redelivered status message is idempotent.
func (r *Router) handleStatus(ctx context.Context, d *device.Device, payload []byte) {
	online, firmware, err := parseStatusPayload(payload)
	if err != nil {
		r.logger.Warn("dropping status message", "device_id", d.ID, "error", err)
		return
	}

	now := time.Now().UTC()
	if err := r.repo.UpdateStatus(ctx, d.ID, online, now, firmware); err != nil {
		r.logger.Error("status update failed", "device_id", d.ID, "error", err)
		return
	}
	r.store.Invalidate(d.ID)

	r.publish(events.Event{
		Type:     events.TypeStatusReported,
		DeviceID: d.ID,
		Payload:  map[string]any{"online": online},
	})
	r.mirrorPresence(d.ID, online)
}

// handleState appends one DeviceState row per payload key, in payload key
// order, and refreshes last-seen exactly once. The burst commits or rolls
// back as a unit.
func (r *Router) handleState(ctx context.Context, d *device.Device, payload []byte) {
	observations, err := ParseStatePayload(payload)
	if err != nil {
		r.logger.Warn("dropping state message", "device_id", d.ID, "error", err)
		return
	}
	if len(observations) == 0 {
		return
	}

	now := time.Now().UTC()
	if err := r.ledger.AppendBurst(ctx, d.ID, observations, now); err != nil {
		r.logger.Error("state burst failed", "device_id", d.ID, "error", err)
		return
	}
	r.store.Invalidate(d.ID)

	states := make(map[string]any, len(observations))
	for _, obs := range observations {
		states[obs.Key] = obs.Value
		r.mirrorObservation(d.ID, obs)
	}
	r.publish(events.Event{
		Type:     events.TypeStateChanged,
		DeviceID: d.ID,
		Payload:  map[string]any{"states": states},
	})
}

// handleOnline updates only the online flag and last-seen.
func (r *Router) handleOnline(ctx context.Context, d *device.Device, payload []byte) {
	online, err := parseOnlinePayload(payload)
	if err != nil {
		r.logger.Warn("dropping online message", "device_id", d.ID, "error", err)
		return
	}

	now := time.Now().UTC()
	if err := r.repo.UpdatePresence(ctx, d.ID, online, now); err != nil {
		r.logger.Error("presence update failed", "device_id", d.ID, "error", err)
		return
	}
	r.store.Invalidate(d.ID)

	r.publish(events.Event{
		Type:     events.TypePresenceChanged,
		DeviceID: d.ID,
		Payload:  map[string]any{"online": online},
	})
	r.mirrorPresence(d.ID, online)
}

// publish emits an event after a committed write.
func (r *Router) publish(ev events.Event) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(ev)
}

// mirrorObservation writes numeric and boolean observations to the
// time-series mirror. Writes are batched and non-blocking.
func (r *Router) mirrorObservation(deviceID string, obs device.Observation) {
	if r.influx == nil {
		return
	}

	switch obs.Type {
	case device.TypeNumber:
		if f, err := strconv.ParseFloat(obs.Value, 64); err == nil {
			r.influx.WriteStateNumber(deviceID, obs.Key, f)
		}
	case device.TypeBoolean:
		r.influx.WriteStateBool(deviceID, obs.Key, obs.Value == "true")
	case device.TypeString, device.TypeJSON:
		// not mirrored; the ledger is the source of truth
	}
}

// mirrorPresence writes a presence transition to the time-series mirror.
func (r *Router) mirrorPresence(deviceID string, online bool) {
	if r.influx == nil {
		return
	}
	r.influx.WritePresence(deviceID, online)
}
