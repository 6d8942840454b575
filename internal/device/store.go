package device

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// defaultLockShards is used when NewStore is given a non-positive shard count.
const defaultLockShards = 64

// Store provides device lookup with caching and per-device serialization.
// It wraps a Repository and adds an in-memory cache for fast resolution on
// the telemetry hot path, plus a sharded lock table so concurrent messages
// for the same device are serialised while different devices proceed in
// parallel.
//
// The Store is a pure lookup surface. Writers (the provisioning workflow,
// the telemetry router, the offline sweep) go through the repository and
// call Invalidate so the next Resolve refetches.
//
// All public methods are thread-safe.
type Store struct {
	repo    Repository
	cache   map[string]*Device
	loaded  bool
	cacheMu sync.RWMutex
	locks   []sync.Mutex
	logger  Logger
}

// NewStore creates a device store over the given repository.
// shards sizes the per-device lock table; values below 1 fall back to the
// default.
func NewStore(repo Repository, shards int) *Store {
	if shards < 1 {
		shards = defaultLockShards
	}
	return &Store{
		repo:   repo,
		cache:  make(map[string]*Device),
		locks:  make([]sync.Mutex, shards),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Refresh reloads all devices from the repository into the cache.
// This should be called on application startup.
func (s *Store) Refresh(ctx context.Context) error {
	devices, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		s.cache[d.ID] = d.DeepCopy()
	}
	s.loaded = true

	s.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Resolve retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (s *Store) Resolve(ctx context.Context, id string) (*Device, error) {
	s.cacheMu.RLock()
	cached, ok := s.cache[id]
	s.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a newly paired device not yet cached)
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[id] = d.DeepCopy()
	s.cacheMu.Unlock()

	return d, nil
}

// ResolveRegistration retrieves a registration by device identifier.
// Returns ErrRegistrationNotFound if no registration exists. Registrations
// are not cached; lookups are rare compared to device resolution.
func (s *Store) ResolveRegistration(ctx context.Context, deviceID string) (*Registration, error) {
	return s.repo.GetRegistrationByDeviceID(ctx, deviceID)
}

// List retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
// Once Refresh has run, the cache is authoritative even when empty.
func (s *Store) List(ctx context.Context) ([]Device, error) {
	s.cacheMu.RLock()
	if s.loaded || len(s.cache) > 0 {
		devices := make([]Device, 0, len(s.cache))
		for _, d := range s.cache {
			devices = append(devices, *d.DeepCopy())
		}
		s.cacheMu.RUnlock()
		return devices, nil
	}
	s.cacheMu.RUnlock()

	devices, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	copies := make([]Device, 0, len(devices))
	for i := range devices {
		copies = append(copies, *devices[i].DeepCopy())
	}
	return copies, nil
}

// Invalidate drops a device from the cache so the next Resolve refetches
// it from the repository. Writers call this after mutating the device row.
func (s *Store) Invalidate(id string) {
	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()
}

// LockDevice acquires the serialization point for a device identifier and
// returns the release function. Messages for the same device are handled
// one at a time; messages for different devices usually land on different
// shards and proceed in parallel.
//
//	unlock := store.LockDevice(deviceID)
//	defer unlock()
func (s *Store) LockDevice(id string) func() {
	shard := &s.locks[s.shardFor(id)]
	shard.Lock()
	return shard.Unlock
}

func (s *Store) shardFor(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id)) //nolint:errcheck // fnv hash writes never fail
	return int(h.Sum32() % uint32(len(s.locks)))
}
