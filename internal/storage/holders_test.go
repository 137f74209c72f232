package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/model"
)

// mockStore implements store.Store in memory.
type mockStore struct {
	data   map[string]interface{}
	putErr error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]interface{})}
}

func (m *mockStore) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = value
	return nil
}

func (m *mockStore) Get(ctx context.Context, key string) (interface{}, error) {
	value, ok := m.data[key]
	if !ok {
		return nil, errors.New("key not found")
	}
	return value, nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}

func (m *mockStore) Ping(ctx context.Context) error { return nil }

func (m *mockStore) Close(ctx context.Context) error { return nil }

func TestHolderRoundTrip(t *testing.T) {
	holders := NewStoreHolderStore(newMockStore(), zap.NewNop())
	ctx := context.Background()

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := model.LockEntry{Owner: "alice", Type: model.HolderUser, Date: &date}

	if err := holders.SetHolder(ctx, "rig-1", entry); err != nil {
		t.Fatalf("SetHolder() error = %v", err)
	}

	got, err := holders.GetHolder(ctx, "rig-1")
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if got.Owner != "alice" || got.Type != model.HolderUser {
		t.Errorf("holder = %+v", got)
	}
	if got.Date == nil || !got.Date.Equal(date) {
		t.Errorf("holder date = %v, want %v", got.Date, date)
	}
}

func TestGetHolderMissing(t *testing.T) {
	holders := NewStoreHolderStore(newMockStore(), zap.NewNop())

	_, err := holders.GetHolder(context.Background(), "rig-1")
	if !errors.Is(err, ErrHolderNotFound) {
		t.Errorf("error = %v, want ErrHolderNotFound", err)
	}
}

func TestClearHolderIsIdempotent(t *testing.T) {
	holders := NewStoreHolderStore(newMockStore(), zap.NewNop())
	ctx := context.Background()

	if err := holders.SetHolder(ctx, "rig-1", model.LockEntry{Owner: "job#42", Type: model.HolderBuild}); err != nil {
		t.Fatalf("SetHolder() error = %v", err)
	}

	if err := holders.ClearHolder(ctx, "rig-1"); err != nil {
		t.Errorf("ClearHolder() error = %v", err)
	}
	if err := holders.ClearHolder(ctx, "rig-1"); err != nil {
		t.Errorf("second ClearHolder() error = %v", err)
	}

	if _, err := holders.GetHolder(ctx, "rig-1"); !errors.Is(err, ErrHolderNotFound) {
		t.Errorf("holder still present after clear: %v", err)
	}
}

func TestEmptyLockNameRejected(t *testing.T) {
	holders := NewStoreHolderStore(newMockStore(), zap.NewNop())
	ctx := context.Background()

	if err := holders.SetHolder(ctx, "", model.LockEntry{Owner: "alice", Type: model.HolderUser}); err == nil {
		t.Error("SetHolder() accepted empty lock name")
	}
	if _, err := holders.GetHolder(ctx, ""); err == nil {
		t.Error("GetHolder() accepted empty lock name")
	}
	if err := holders.ClearHolder(ctx, ""); err == nil {
		t.Error("ClearHolder() accepted empty lock name")
	}
}
