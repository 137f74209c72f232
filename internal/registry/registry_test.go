package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/build"
	"github.com/devicelab/bridge/internal/events"
	"github.com/devicelab/bridge/internal/model"
	"github.com/devicelab/bridge/internal/storage"
)

// mockHolderStore implements storage.HolderStore in memory.
type mockHolderStore struct {
	holders map[string]model.LockEntry
	setErr  error
}

func newMockHolderStore() *mockHolderStore {
	return &mockHolderStore{holders: make(map[string]model.LockEntry)}
}

func (m *mockHolderStore) SetHolder(ctx context.Context, lockName string, entry model.LockEntry) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.holders[lockName] = entry
	return nil
}

func (m *mockHolderStore) GetHolder(ctx context.Context, lockName string) (*model.LockEntry, error) {
	entry, ok := m.holders[lockName]
	if !ok {
		return nil, storage.ErrHolderNotFound
	}
	return &entry, nil
}

func (m *mockHolderStore) ClearHolder(ctx context.Context, lockName string) error {
	delete(m.holders, lockName)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *events.Subscription, *mockHolderStore) {
	t.Helper()

	router := events.NewRouter(zap.NewNop())
	holders := newMockHolderStore()
	registry := New(zap.NewNop(), router, holders)

	sub := router.Subscribe("watcher")
	sub.Join(events.TopicHome)
	t.Cleanup(sub.Close)

	if err := registry.AddDevice(DeviceDef{ID: "dev1", Name: "Device One", LockName: "rig-1"}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if err := registry.AddDevice(DeviceDef{ID: "dev2", Name: "Device Two"}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	return registry, sub, holders
}

func drain(sub *events.Subscription) []model.Event {
	var out []model.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAddDeviceRejectsDuplicates(t *testing.T) {
	registry := New(zap.NewNop(), nil, nil)

	if err := registry.AddDevice(DeviceDef{ID: "dev1"}); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if err := registry.AddDevice(DeviceDef{ID: "dev1"}); err == nil {
		t.Error("AddDevice() accepted a duplicate id")
	}
	if err := registry.AddDevice(DeviceDef{}); err == nil {
		t.Error("AddDevice() accepted an empty id")
	}
}

func TestListSortsByName(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	list := registry.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(list))
	}
	if list[0].Name != "Device One" || list[1].Name != "Device Two" {
		t.Errorf("List() order = %s, %s", list[0].Name, list[1].Name)
	}
}

func TestGetUnknownDevice(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	if _, err := registry.Get("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestStartBuildEmitsAndProjects(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)

	view, err := registry.StartBuild("dev1", "nightly", "https://ci.example.com/42")
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	if view.Name != "nightly" || view.Device != "dev1" {
		t.Errorf("view = %+v", view)
	}

	got := drain(sub)
	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Type != "build" || got[0].Action != "build-start" || got[0].Device != "dev1" {
		t.Errorf("event = %+v", got[0])
	}

	detail, err := registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Build == nil || detail.Build.Name != "nightly" {
		t.Errorf("detail build = %+v", detail.Build)
	}
}

func TestStartBuildSameNameKeepsHistory(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)

	if _, err := registry.StartBuild("dev1", "nightly", "link-a"); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	err := registry.WithBuild("dev1", func(b *build.Build) {
		b.PushStage("Compile")
	})
	if err != nil {
		t.Fatalf("WithBuild() error = %v", err)
	}

	// Same build announcing itself again after a reconnect.
	if _, err := registry.StartBuild("dev1", "nightly", "link-b"); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}

	detail, err := registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Build == nil || detail.Build.Link != "link-b" {
		t.Errorf("build link = %+v", detail.Build)
	}
	if detail.Build.Stage == nil || detail.Build.Stage.Name != "Compile" {
		t.Errorf("stage history lost across restart: %+v", detail.Build)
	}

	drain(sub)
}

func TestStartBuildDifferentNameReplaces(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)

	if _, err := registry.StartBuild("dev1", "nightly", ""); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	err := registry.WithBuild("dev1", func(b *build.Build) {
		b.PushStage("Compile")
	})
	if err != nil {
		t.Fatalf("WithBuild() error = %v", err)
	}

	if _, err := registry.StartBuild("dev1", "release", ""); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}

	detail, err := registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Build == nil || detail.Build.Name != "release" {
		t.Errorf("build = %+v", detail.Build)
	}
	if detail.Build.Stage != nil {
		t.Errorf("stage carried over to a different build: %+v", detail.Build.Stage)
	}

	drain(sub)
}

func TestEndBuildDetachesAndEmits(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)

	if _, err := registry.StartBuild("dev1", "nightly", ""); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	drain(sub)

	success := true
	if err := registry.EndBuild("dev1", &success); err != nil {
		t.Fatalf("EndBuild() error = %v", err)
	}

	detail, err := registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Build != nil {
		t.Errorf("build still attached: %+v", detail.Build)
	}

	got := drain(sub)
	if len(got) != 2 {
		t.Fatalf("received %d events, want result + build-stop", len(got))
	}
	if got[0].Action != build.ActionResult {
		t.Errorf("first event action = %s", got[0].Action)
	}
	if got[1].Action != "build-stop" {
		t.Errorf("second event action = %s", got[1].Action)
	}
}

func TestEndBuildWithoutBuildIsNoOp(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)

	if err := registry.EndBuild("dev1", nil); err != nil {
		t.Errorf("EndBuild() error = %v", err)
	}
	if got := drain(sub); len(got) != 0 {
		t.Errorf("received %d events, want 0", len(got))
	}
}

func TestWithBuildRequiresActiveBuild(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	err := registry.WithBuild("dev1", func(b *build.Build) {
		t.Error("fn called with no active build")
	})
	if !errors.Is(err, ErrNoActiveBuild) {
		t.Errorf("error = %v, want ErrNoActiveBuild", err)
	}
}

func TestStageEventsCarryProjection(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)

	if _, err := registry.StartBuild("dev1", "nightly", ""); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	drain(sub)

	err := registry.WithBuild("dev1", func(b *build.Build) {
		b.PushStage("Compile")
		b.PushTask("link")
	})
	if err != nil {
		t.Fatalf("WithBuild() error = %v", err)
	}

	got := drain(sub)
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	last, ok := got[1].Payload.(model.BuildView)
	if !ok {
		t.Fatalf("payload type = %T", got[1].Payload)
	}
	if last.Stage == nil || last.Stage.Name != "Compile" {
		t.Errorf("payload stage = %+v", last.Stage)
	}
	if last.Task == nil || last.Task.Name != "link" {
		t.Errorf("payload task = %+v", last.Task)
	}
}

func TestReconcileReplacesHolders(t *testing.T) {
	registry, sub, holders := newTestRegistry(t)
	ctx := context.Background()

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	registry.Reconcile(ctx, map[string]model.LockEntry{
		"rig-1": {Owner: "alice", Type: model.HolderUser, Date: &date},
	})

	detail, err := registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Holder == nil || detail.Holder.Owner != "alice" {
		t.Errorf("holder = %+v", detail.Holder)
	}
	if _, ok := holders.holders["rig-1"]; !ok {
		t.Error("holder not mirrored to the store")
	}

	got := drain(sub)
	if len(got) != 1 || got[0].Type != "lock" || got[0].Device != "dev1" {
		t.Errorf("events = %+v", got)
	}

	// The snapshot is a full replacement: an absent lock is free.
	registry.Reconcile(ctx, map[string]model.LockEntry{})

	detail, err = registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Holder != nil {
		t.Errorf("holder not cleared: %+v", detail.Holder)
	}
	if _, ok := holders.holders["rig-1"]; ok {
		t.Error("mirrored holder not cleared")
	}
}

func TestReconcileUnchangedIsQuiet(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)
	ctx := context.Background()

	snapshot := map[string]model.LockEntry{
		"rig-1": {Owner: "alice", Type: model.HolderUser},
	}
	registry.Reconcile(ctx, snapshot)
	drain(sub)

	registry.Reconcile(ctx, snapshot)
	if got := drain(sub); len(got) != 0 {
		t.Errorf("received %d events for an unchanged snapshot", len(got))
	}
}

func TestReconcileIgnoresLocklessDevices(t *testing.T) {
	registry, sub, _ := newTestRegistry(t)

	registry.Reconcile(context.Background(), map[string]model.LockEntry{
		"dev2": {Owner: "alice", Type: model.HolderUser},
	})

	detail, err := registry.Get("dev2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Holder != nil {
		t.Errorf("lockless device acquired a holder: %+v", detail.Holder)
	}
	if got := drain(sub); len(got) != 0 {
		t.Errorf("received %d events, want 0", len(got))
	}
}

func TestPrimeHolders(t *testing.T) {
	registry, _, holders := newTestRegistry(t)

	holders.holders["rig-1"] = model.LockEntry{Owner: "job#7", Type: model.HolderBuild}
	registry.PrimeHolders(context.Background())

	detail, err := registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Holder == nil || detail.Holder.Owner != "job#7" {
		t.Errorf("holder = %+v", detail.Holder)
	}
}

func TestLockName(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	name, err := registry.LockName("dev1")
	if err != nil || name != "rig-1" {
		t.Errorf("LockName() = %q, %v", name, err)
	}
	if _, err := registry.LockName("dev2"); !errors.Is(err, ErrNoLockName) {
		t.Errorf("error = %v, want ErrNoLockName", err)
	}
	if _, err := registry.LockName("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}
