package telemetry

import (
	"context"
	"time"

	"github.com/ironvale/fleetcore/internal/audit"
	"github.com/ironvale/fleetcore/internal/device"
	"github.com/ironvale/fleetcore/internal/events"
	"github.com/ironvale/fleetcore/internal/infrastructure/logging"
)

// Sweeper marks devices offline when they have been silent for longer than
// the configured horizon. It is the only producer of the offline lifecycle
// status; the router only ever reports what devices say about themselves.
type Sweeper struct {
	repo   device.Repository
	store  *device.Store
	hub    *events.Hub
	audits audit.Repository
	logger *logging.Logger

	offlineAfter time.Duration
	interval     time.Duration
}

// SweeperConfig carries the sweeper's collaborators. Hub and Audits are
// optional.
type SweeperConfig struct {
	Repo   device.Repository
	Store  *device.Store
	Hub    *events.Hub
	Audits audit.Repository
	Logger *logging.Logger

	// OfflineAfter is how long a device may stay silent before the sweep
	// marks it offline.
	OfflineAfter time.Duration

	// Interval is how often the sweep runs.
	Interval time.Duration
}

// NewSweeper creates an offline sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		repo:         cfg.Repo,
		store:        cfg.Store,
		hub:          cfg.Hub,
		audits:       cfg.Audits,
		logger:       cfg.Logger.With("component", "sweeper"),
		offlineAfter: cfg.OfflineAfter,
		interval:     cfg.Interval,
	}
}

// Run executes the sweep on each tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep marks every device silent past the horizon as offline and emits a
// presence event per affected device.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.offlineAfter)

	ids, err := s.repo.MarkOfflineBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("offline sweep failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	s.logger.Info("marked devices offline", "count", len(ids))

	for _, id := range ids {
		s.store.Invalidate(id)

		if s.hub != nil {
			s.hub.Publish(events.Event{
				Type:     events.TypePresenceChanged,
				DeviceID: id,
				Payload:  map[string]any{"online": false, "swept": true},
			})
		}

		if s.audits != nil {
			entry := &audit.AuditLog{
				Action:     audit.ActionDeviceOffline,
				EntityType: audit.EntityDevice,
				EntityID:   id,
				Source:     "sweeper",
			}
			if err := s.audits.Create(ctx, entry); err != nil {
				s.logger.Warn("audit log write failed", "device_id", id, "error", err)
			}
		}
	}
}
