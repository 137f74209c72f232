// Package health aggregates the service's self-checks behind the probe
// endpoints. Checkers report on the pieces the coordinator depends on
// (configuration, logging, the holder store, the device registry, the
// HTTP servers); the manager runs them concurrently and caches results
// so frequent probing stays cheap.
package health

import (
	"context"
	"time"
)

// Status is the outcome of a single check.
type Status string

const (
	// StatusOK indicates the check passed.
	StatusOK Status = "ok"
	// StatusStarting indicates the service is still starting.
	StatusStarting Status = "starting"
	// StatusNotReady indicates the service is not ready to handle requests.
	StatusNotReady Status = "not-ready"
	// StatusError indicates the check failed.
	StatusError Status = "error"
)

// CheckResult is one check's outcome with timing details.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker is a single registerable health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// StartupResponse is the body served by GET /healthz/startup.
type StartupResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Status `json:"checks"`
}

// LivenessResponse is the body served by GET /healthz/live.
type LivenessResponse struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body served by GET /healthz/ready.
type ReadinessResponse struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Ready     bool      `json:"ready"`
}
