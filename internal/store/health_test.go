package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/health"
)

// mockStore implements Store for health checker tests.
type mockStore struct {
	data    map[string]interface{}
	pingErr error
	putErr  error
	getErr  error
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
	if m.getErr != nil {
		return nil, m.getErr
	}
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

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) Close(ctx context.Context) error {
	return nil
}

func TestConnectionChecker(t *testing.T) {
	t.Run("healthy connection", func(t *testing.T) {
		checker := NewConnectionChecker(zap.NewNop(), newMockStore())

		result := checker.Check(context.Background())
		if result.Status != health.StatusOK {
			t.Errorf("status = %s, want %s (%s)", result.Status, health.StatusOK, result.Message)
		}
		if result.Name != "store-connection" {
			t.Errorf("name = %s", result.Name)
		}
	})

	t.Run("unreachable store", func(t *testing.T) {
		mock := newMockStore()
		mock.pingErr = errors.New("connection refused")
		checker := NewConnectionChecker(zap.NewNop(), mock)

		result := checker.Check(context.Background())
		if result.Status != health.StatusError {
			t.Errorf("status = %s, want %s", result.Status, health.StatusError)
		}
	})
}

func TestRoundTripChecker(t *testing.T) {
	t.Run("working store", func(t *testing.T) {
		mock := newMockStore()
		checker := NewRoundTripChecker(zap.NewNop(), mock)

		result := checker.Check(context.Background())
		if result.Status != health.StatusOK {
			t.Errorf("status = %s, want %s (%s)", result.Status, health.StatusOK, result.Message)
		}
		// The test key must not linger.
		if len(mock.data) != 0 {
			t.Errorf("test key left behind: %v", mock.data)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		mock := newMockStore()
		mock.putErr = errors.New("disk full")
		checker := NewRoundTripChecker(zap.NewNop(), mock)

		result := checker.Check(context.Background())
		if result.Status != health.StatusError {
			t.Errorf("status = %s, want %s", result.Status, health.StatusError)
		}
	})

	t.Run("read failure", func(t *testing.T) {
		mock := newMockStore()
		mock.getErr = errors.New("timeout")
		checker := NewRoundTripChecker(zap.NewNop(), mock)

		result := checker.Check(context.Background())
		if result.Status != health.StatusError {
			t.Errorf("status = %s, want %s", result.Status, health.StatusError)
		}
	})
}
