package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/health"
)

// ConnectionChecker verifies the embedded store is reachable.
type ConnectionChecker struct {
	logger *zap.Logger
	store  Store
}

// NewConnectionChecker creates a store connection health checker.
func NewConnectionChecker(logger *zap.Logger, store Store) *ConnectionChecker {
	return &ConnectionChecker{
		logger: logger,
		store:  store,
	}
}

// Name returns the name of the health check.
func (c *ConnectionChecker) Name() string {
	return "store-connection"
}

// Check performs the health check.
func (c *ConnectionChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := c.store.Ping(checkCtx)

	result := health.CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Store connection failed: %v", err)
		c.logger.Warn("Store connection check failed", zap.Error(err))
	} else {
		result.Status = health.StatusOK
		result.Message = "Store connection healthy"
	}

	return result
}

// RoundTripChecker verifies the store can serve a write/read/delete cycle.
type RoundTripChecker struct {
	logger *zap.Logger
	store  Store
}

// NewRoundTripChecker creates a store round-trip health checker.
func NewRoundTripChecker(logger *zap.Logger, store Store) *RoundTripChecker {
	return &RoundTripChecker{
		logger: logger,
		store:  store,
	}
}

// Name returns the name of the health check.
func (c *RoundTripChecker) Name() string {
	return "store-roundtrip"
}

// Check performs the health check.
func (c *RoundTripChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	result := health.CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	testKey := fmt.Sprintf("health-check-%d", time.Now().UnixNano())
	testValue := "healthy"

	if err := c.store.Put(checkCtx, testKey, testValue, 5*time.Second); err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Failed to write test key: %v", err)
		c.logger.Warn("Store write health check failed", zap.Error(err))
		return result
	}

	value, err := c.store.Get(checkCtx, testKey)
	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Failed to read test key: %v", err)
		c.logger.Warn("Store read health check failed", zap.Error(err))
		_ = c.store.Delete(context.Background(), testKey)
		return result
	}

	if value != testValue {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Test key value mismatch: got %v, want %v", value, testValue)
		_ = c.store.Delete(context.Background(), testKey)
		return result
	}

	if err := c.store.Delete(checkCtx, testKey); err != nil {
		c.logger.Warn("Failed to clean up test key", zap.Error(err))
	}

	result.Status = health.StatusOK
	result.Message = "Store read/write operations working"
	return result
}
