// Package storage persists the reconciled lock-holder snapshot, keyed by
// lock name. The external lock manager remains the source of truth; this
// layer only mirrors the last snapshot the service reconciled.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/model"
	"github.com/devicelab/bridge/internal/store"
)

// ErrHolderNotFound is returned when no holder is recorded for a lock,
// meaning the lock was free in the last reconciled snapshot.
var ErrHolderNotFound = errors.New("holder not found")

// HolderStore records the current holder of each lock.
type HolderStore interface {
	// SetHolder records entry as the current holder of lockName.
	SetHolder(ctx context.Context, lockName string, entry model.LockEntry) error

	// GetHolder returns the recorded holder of lockName, or
	// ErrHolderNotFound when the lock is free.
	GetHolder(ctx context.Context, lockName string) (*model.LockEntry, error)

	// ClearHolder removes the holder record for lockName. Idempotent.
	ClearHolder(ctx context.Context, lockName string) error
}

// StoreHolderStore implements HolderStore on top of the embedded store.
type StoreHolderStore struct {
	store  store.Store
	logger *zap.Logger
}

// NewStoreHolderStore creates a holder store backed by the given store.
func NewStoreHolderStore(store store.Store, logger *zap.Logger) *StoreHolderStore {
	return &StoreHolderStore{
		store:  store,
		logger: logger,
	}
}

// SetHolder records entry as the current holder of lockName.
func (s *StoreHolderStore) SetHolder(ctx context.Context, lockName string, entry model.LockEntry) error {
	if lockName == "" {
		return fmt.Errorf("lock name cannot be empty")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize holder: %w", err)
	}

	// Snapshots are full replacements, so entries never expire on their
	// own; the next reconciliation overwrites or clears them.
	if err := s.store.Put(ctx, lockName, string(data), 0); err != nil {
		return fmt.Errorf("failed to store holder: %w", err)
	}

	s.logger.Debug("Holder recorded",
		zap.String("lock", lockName),
		zap.String("owner", entry.Owner),
		zap.String("type", string(entry.Type)),
	)
	return nil
}

// GetHolder returns the recorded holder of lockName.
func (s *StoreHolderStore) GetHolder(ctx context.Context, lockName string) (*model.LockEntry, error) {
	if lockName == "" {
		return nil, fmt.Errorf("lock name cannot be empty")
	}

	value, err := s.store.Get(ctx, lockName)
	if err != nil {
		if err.Error() == "key not found" {
			return nil, ErrHolderNotFound
		}
		return nil, fmt.Errorf("failed to get holder: %w", err)
	}

	data, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("invalid holder data type: expected string, got %T", value)
	}

	var entry model.LockEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to deserialize holder: %w", err)
	}
	return &entry, nil
}

// ClearHolder removes the holder record for lockName.
func (s *StoreHolderStore) ClearHolder(ctx context.Context, lockName string) error {
	if lockName == "" {
		return fmt.Errorf("lock name cannot be empty")
	}
	if err := s.store.Delete(ctx, lockName); err != nil {
		return fmt.Errorf("failed to clear holder: %w", err)
	}
	return nil
}
