package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/health"
)

// DevicesChecker reports whether the registry holds any devices. An empty
// registry means the definitions file was missing or empty, and the
// service has nothing to coordinate.
type DevicesChecker struct {
	logger   *zap.Logger
	registry *Registry
}

// NewDevicesChecker creates a health checker for the device registry.
func NewDevicesChecker(logger *zap.Logger, registry *Registry) *DevicesChecker {
	return &DevicesChecker{
		logger:   logger,
		registry: registry,
	}
}

// Name returns the name of the health check.
func (c *DevicesChecker) Name() string {
	return "devices"
}

// Check performs the health check.
func (c *DevicesChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	result := health.CheckResult{
		Name:      c.Name(),
		Status:    health.StatusOK,
		Timestamp: time.Now(),
	}

	count := len(c.registry.List())
	if count == 0 {
		result.Status = health.StatusError
		result.Message = "No devices registered"
	} else {
		result.Message = fmt.Sprintf("%d devices registered", count)
	}

	result.Duration = time.Since(start)
	return result
}
