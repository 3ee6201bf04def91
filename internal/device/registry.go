package device

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives every capability change committed by SetCapability.
// Observers run synchronously, in registration order, with no registry
// lock held; they must not block for long.
type Observer func(StateChange)

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger

	observersMu sync.RWMutex
	observers   []observerEntry
	nextObsID   int

	now func() time.Time
}

type observerEntry struct {
	id int
	fn Observer
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// Call it on startup; afterwards the cache is kept in sync by the
// registry's own writes.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID. The result is a deep copy.
func (r *Registry) GetDevice(_ context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	d, ok := r.cache[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// ListDevices returns all devices as deep copies.
func (r *Registry) ListDevices(context.Context) []Device {
	return r.filter(func(*Device) bool { return true })
}

// ListByKind returns all devices of the given kind as deep copies.
func (r *Registry) ListByKind(_ context.Context, kind Kind) []Device {
	return r.filter(func(d *Device) bool { return d.Kind == kind })
}

// FindByExternalID returns the device of kind paired to the gateway
// instance externalID, or ErrDeviceNotFound.
func (r *Registry) FindByExternalID(_ context.Context, kind Kind, externalID string) (*Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, d := range r.cache {
		if d.Kind == kind && d.ExternalID == externalID {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (r *Registry) filter(keep func(*Device) bool) []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if keep(d) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices
}

// CreateDevice pairs a new device. The ID is generated and the capability
// set derived from the kind when not provided.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Capabilities == nil {
		d.Capabilities = CapabilitiesFor(d.Kind)
	}
	if d.State == nil {
		d.State = State{}
	}

	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", d.ID, "name", d.Name, "kind", d.Kind, "external_id", d.ExternalID)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetCapability writes one capability value, persisting it and notifying
// observers. Writing the value already held is a no-op without
// notification.
func (r *Registry) SetCapability(ctx context.Context, id string, capability Capability, value any) error {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	var current any
	var has bool
	if ok {
		current, has = cached.State[string(capability)]
	}
	r.cacheMu.RUnlock()

	if !ok {
		return ErrDeviceNotFound
	}
	if !cached.HasCapability(capability) {
		return fmt.Errorf("%w: %s has no %q", ErrInvalidCapability, id, capability)
	}

	value, err := NormalizeValue(capability, value)
	if err != nil {
		return err
	}
	if has && reflect.DeepEqual(current, value) {
		return nil
	}

	now := r.now().UTC()
	if err := r.repo.UpdateState(ctx, id, State{string(capability): value}, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if latest, ok := r.cache[id]; ok {
		updated := latest.DeepCopy()
		if updated.State == nil {
			updated.State = State{}
		}
		updated.State[string(capability)] = value
		updated.StateUpdatedAt = &now
		updated.UpdatedAt = now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("capability updated", "id", id, "capability", capability, "value", value)

	r.notify(StateChange{
		DeviceID:   id,
		ExternalID: cached.ExternalID,
		Kind:       cached.Kind,
		Capability: capability,
		Value:      value,
		Timestamp:  now,
	})
	return nil
}

// AddObserver registers fn and returns a function that removes it.
func (r *Registry) AddObserver(fn Observer) (remove func()) {
	r.observersMu.Lock()
	id := r.nextObsID
	r.nextObsID++
	r.observers = append(r.observers, observerEntry{id: id, fn: fn})
	r.observersMu.Unlock()

	return func() {
		r.observersMu.Lock()
		defer r.observersMu.Unlock()
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Registry) notify(change StateChange) {
	r.observersMu.RLock()
	observers := make([]Observer, len(r.observers))
	for i, o := range r.observers {
		observers[i] = o.fn
	}
	r.observersMu.RUnlock()

	for _, fn := range observers {
		fn(change)
	}
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int          `json:"total_devices"`
	ByKind       map[Kind]int `json:"by_kind"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByKind:       make(map[Kind]int),
	}
	for _, d := range r.cache {
		stats.ByKind[d.Kind]++
	}
	return stats
}
