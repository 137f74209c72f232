// Package registry holds the in-memory set of known devices and
// coordinates their build and lock-holder state. Mutations for one device
// are serialized by a per-device lock; the build stack operations rely on
// that ordering.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/build"
	"github.com/devicelab/bridge/internal/events"
	"github.com/devicelab/bridge/internal/model"
	"github.com/devicelab/bridge/internal/storage"
)

// Errors returned by registry operations.
var (
	// ErrDeviceNotFound is returned for an unknown device identifier.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoActiveBuild is returned when a stage/task operation arrives for
	// a device with no build in progress.
	ErrNoActiveBuild = errors.New("no active build for device")

	// ErrNoLockName is returned when a reservation is requested for a
	// device that is not tracked by the external lock manager.
	ErrNoLockName = errors.New("device has no lock name")
)

// device is a registered device plus its mutable coordination state.
type device struct {
	mu sync.Mutex

	id       string
	name     string
	lockName string
	holder   *model.LockEntry
	build    *build.Build
}

// Registry is the in-memory device registry.
type Registry struct {
	logger  *zap.Logger
	router  *events.Router
	holders storage.HolderStore

	mu      sync.RWMutex
	devices map[string]*device
}

// New creates an empty registry. holders may be nil, in which case the
// reconciled snapshot is not mirrored to storage.
func New(logger *zap.Logger, router *events.Router, holders storage.HolderStore) *Registry {
	return &Registry{
		logger:  logger,
		router:  router,
		holders: holders,
		devices: make(map[string]*device),
	}
}

// AddDevice registers a device. Adding an already-known identifier is an
// error; device identity is fixed for the process lifetime.
func (r *Registry) AddDevice(def DeviceDef) error {
	if def.ID == "" {
		return errors.New("device id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[def.ID]; exists {
		return errors.New("duplicate device id: " + def.ID)
	}
	name := def.Name
	if name == "" {
		name = def.ID
	}
	r.devices[def.ID] = &device{
		id:       def.ID,
		name:     name,
		lockName: def.LockName,
	}
	return nil
}

// PrimeHolders seeds each lock-carrying device's holder field from the
// mirrored snapshot, so views are populated before the first
// reconciliation after a restart.
func (r *Registry) PrimeHolders(ctx context.Context) {
	if r.holders == nil {
		return
	}
	for _, dev := range r.all() {
		dev.mu.Lock()
		lockName := dev.lockName
		dev.mu.Unlock()
		if lockName == "" {
			continue
		}

		entry, err := r.holders.GetHolder(ctx, lockName)
		if err != nil {
			if !errors.Is(err, storage.ErrHolderNotFound) {
				r.logger.Warn("Failed to prime holder",
					zap.String("device", dev.id),
					zap.Error(err),
				)
			}
			continue
		}
		dev.mu.Lock()
		dev.holder = entry
		dev.mu.Unlock()
	}
}

// List returns summaries of all devices, sorted by name.
func (r *Registry) List() []model.DeviceSummary {
	devices := r.all()

	out := make([]model.DeviceSummary, 0, len(devices))
	for _, dev := range devices {
		dev.mu.Lock()
		out = append(out, model.DeviceSummary{
			ID:     dev.id,
			Name:   dev.name,
			Locked: dev.holder != nil,
		})
		dev.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the detail view of one device.
func (r *Registry) Get(id string) (model.DeviceView, error) {
	dev, err := r.device(id)
	if err != nil {
		return model.DeviceView{}, err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	view := model.DeviceView{
		ID:       dev.id,
		Name:     dev.name,
		LockName: dev.lockName,
		Holder:   dev.holder,
	}
	if dev.build != nil {
		snapshot := dev.build.Snapshot()
		view.Build = &snapshot
	}
	return view, nil
}

// LockName returns the external lock name for a device, or ErrNoLockName.
func (r *Registry) LockName(id string) (string, error) {
	dev, err := r.device(id)
	if err != nil {
		return "", err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.lockName == "" {
		return "", ErrNoLockName
	}
	return dev.lockName, nil
}

// StartBuild begins a build on a device. If a build with the same name is
// already active (a reconnecting CI agent re-announcing itself), the
// existing build is rehydrated via a clone that keeps the stage history;
// otherwise any previous build is replaced.
func (r *Registry) StartBuild(id, name, link string) (model.BuildView, error) {
	dev, err := r.device(id)
	if err != nil {
		return model.BuildView{}, err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.build != nil && dev.build.Name() == name {
		clone := dev.build.Clone()
		clone.SetLink(link)
		clone.SetNotifier(r.buildNotifier(id, clone))
		dev.build = clone
		r.logger.Info("Build rehydrated",
			zap.String("device", id),
			zap.String("build", name),
		)
	} else {
		b := build.New(id, name, link, nil)
		b.SetNotifier(r.buildNotifier(id, b))
		dev.build = b
		r.logger.Info("Build started",
			zap.String("device", id),
			zap.String("build", name),
		)
	}

	snapshot := dev.build.Snapshot()
	r.emit(model.Event{
		Type:    "build",
		Action:  "build-start",
		Device:  id,
		Payload: snapshot,
	})
	return snapshot, nil
}

// EndBuild detaches a device's build. If result is non-nil it is recorded
// first (emitting the result event) before the detachment is announced.
// Ending with no active build is a no-op, like an unbalanced pop.
func (r *Registry) EndBuild(id string, result *bool) error {
	dev, err := r.device(id)
	if err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.build == nil {
		return nil
	}
	if result != nil {
		dev.build.SetResult(*result)
	}
	dev.build = nil

	r.logger.Info("Build ended", zap.String("device", id))
	r.emit(model.Event{
		Type:    "build",
		Action:  "build-stop",
		Device:  id,
		Payload: result,
	})
	return nil
}

// WithBuild runs fn against the device's active build under the device
// lock. Returns ErrNoActiveBuild when the device has no build.
func (r *Registry) WithBuild(id string, fn func(b *build.Build)) error {
	dev, err := r.device(id)
	if err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.build == nil {
		return ErrNoActiveBuild
	}
	fn(dev.build)
	return nil
}

// Reconcile replaces every lock-carrying device's holder from a freshly
// parsed snapshot. The snapshot is complete, not a diff: a lock absent
// from holders is free and the device's holder is cleared. Changes are
// mirrored to the holder store and announced per device.
func (r *Registry) Reconcile(ctx context.Context, holders map[string]model.LockEntry) {
	for _, dev := range r.all() {
		dev.mu.Lock()
		lockName := dev.lockName
		if lockName == "" {
			dev.mu.Unlock()
			continue
		}

		var next *model.LockEntry
		if entry, held := holders[lockName]; held {
			next = &entry
		}

		changed := !holderEqual(dev.holder, next)
		dev.holder = next
		id := dev.id
		dev.mu.Unlock()

		if !changed {
			continue
		}

		r.mirrorHolder(ctx, lockName, next)
		r.emit(model.Event{
			Type:    "lock",
			Device:  id,
			Payload: next,
		})
		r.logger.Info("Lock holder updated",
			zap.String("device", id),
			zap.String("lock", lockName),
			zap.Bool("held", next != nil),
		)
	}
}

// buildNotifier adapts a build's change notifications into routed events
// carrying the build's current projection. The build itself knows nothing
// about subscribers.
func (r *Registry) buildNotifier(id string, b *build.Build) build.Notifier {
	return func(action string, payload any) {
		r.emit(model.Event{
			Type:    "build",
			Action:  action,
			Device:  id,
			Payload: b.Snapshot(),
		})
	}
}

func (r *Registry) emit(ev model.Event) {
	if r.router == nil {
		return
	}
	if err := r.router.Emit(ev); err != nil {
		r.logger.Error("Failed to route event",
			zap.String("type", ev.Type),
			zap.String("action", ev.Action),
			zap.Error(err),
		)
	}
}

func (r *Registry) mirrorHolder(ctx context.Context, lockName string, entry *model.LockEntry) {
	if r.holders == nil {
		return
	}
	var err error
	if entry != nil {
		err = r.holders.SetHolder(ctx, lockName, *entry)
	} else {
		err = r.holders.ClearHolder(ctx, lockName)
	}
	if err != nil {
		r.logger.Warn("Failed to mirror holder snapshot",
			zap.String("lock", lockName),
			zap.Error(err),
		)
	}
}

func (r *Registry) device(id string) (*device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return dev, nil
}

func (r *Registry) all() []*device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	return out
}

func holderEqual(a, b *model.LockEntry) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Owner != b.Owner || a.Type != b.Type {
		return false
	}
	if (a.Date == nil) != (b.Date == nil) {
		return false
	}
	return a.Date == nil || a.Date.Equal(*b.Date)
}
