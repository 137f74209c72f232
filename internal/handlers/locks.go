package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/jenkins"
	"github.com/devicelab/bridge/internal/lockdoc"
	"github.com/devicelab/bridge/internal/metrics"
	"github.com/devicelab/bridge/internal/model"
	"github.com/devicelab/bridge/internal/registry"
)

// maxStatusDocumentSize bounds the lock status document body.
const maxStatusDocumentSize = 4 << 20

// LockClient is the subset of the lock manager client the handlers need.
type LockClient interface {
	SetReservation(ctx context.Context, baseURL string, creds jenkins.Credentials, lockName, action string) error
	CheckCredentials(ctx context.Context, baseURL string, creds jenkins.Credentials) error
}

// LockHandlers provides HTTP handlers for lock snapshot ingestion and
// reservation forwarding.
type LockHandlers struct {
	registry *registry.Registry
	client   LockClient
	baseURL  string
	creds    jenkins.Credentials
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewLockHandlers creates a new LockHandlers instance. baseURL and creds
// configure the outbound lock manager connection; an empty baseURL
// disables the forwarding endpoints.
func NewLockHandlers(registry *registry.Registry, client LockClient, baseURL string, creds jenkins.Credentials, logger *zap.Logger, metrics *metrics.Metrics) *LockHandlers {
	return &LockHandlers{
		registry: registry,
		client:   client,
		baseURL:  baseURL,
		creds:    creds,
		logger:   logger,
		metrics:  metrics,
	}
}

// HandleStatus handles POST /locks/status requests carrying a lock status
// snapshot document from the lock manager.
// Returns:
//   - 200 OK: Snapshot parsed and reconciled
//   - 400 Bad Request: Document unparseable or missing required structure
func (h *LockHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStatusDocumentSize))
	if err != nil {
		h.recordSnapshot("invalid")
		respondError(w, h.logger, http.StatusBadRequest, "Failed to read request body")
		return
	}

	holders, err := lockdoc.Parse(body)
	if err != nil {
		// A malformed document is rejected whole; the previous holder state
		// stays in place rather than being partially overwritten.
		h.logger.Warn("Rejected lock status document", zap.Error(err))
		h.recordSnapshot("invalid")
		respondError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	h.registry.Reconcile(r.Context(), holders)
	h.recordSnapshot("parsed")
	respondJSON(w, h.logger, http.StatusOK, model.Response{Status: "ok"})
}

// HandleReservation handles POST /devices/{device}/reservation requests,
// forwarding a reserve or unreserve to the lock manager.
// Returns:
//   - 200 OK: Reservation updated
//   - 400 Bad Request: Invalid body, action, or device has no lock
//   - 401 Unauthorized: Lock manager rejected the credentials
//   - 404 Not Found: Unknown device
//   - 502 Bad Gateway: Lock manager unreachable or misbehaving
func (h *LockHandlers) HandleReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "device")

	var req model.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordReservation(req.Action, "failure")
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Action != jenkins.ActionReserve && req.Action != jenkins.ActionUnreserve {
		h.recordReservation(req.Action, "failure")
		respondError(w, h.logger, http.StatusBadRequest, "Action must be reserve or unreserve")
		return
	}
	if h.baseURL == "" {
		respondError(w, h.logger, http.StatusBadRequest, "No lock manager configured")
		return
	}

	lockName, err := h.registry.LockName(id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.recordReservation(req.Action, "failure")
			respondError(w, h.logger, http.StatusNotFound, "Device not found")
			return
		}
		h.recordReservation(req.Action, "failure")
		respondError(w, h.logger, http.StatusBadRequest, "Device has no lock name")
		return
	}

	if err := h.client.SetReservation(r.Context(), h.baseURL, h.creds, lockName, req.Action); err != nil {
		h.respondLockManagerError(w, req.Action, err)
		return
	}

	h.recordReservation(req.Action, "success")
	respondJSON(w, h.logger, http.StatusOK, model.Response{Status: "ok"})
}

// HandleCredentialsCheck handles POST /credentials/check requests,
// validating a set of lock manager credentials without mutating anything.
// Returns:
//   - 200 OK: Credentials accepted
//   - 400 Bad Request: Invalid body or no lock manager configured
//   - 401 Unauthorized: Credentials rejected
//   - 502 Bad Gateway: Lock manager unreachable or misbehaving
func (h *LockHandlers) HandleCredentialsCheck(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.APIToken == "" {
		respondError(w, h.logger, http.StatusBadRequest, "Username and API token are required")
		return
	}
	if h.baseURL == "" {
		respondError(w, h.logger, http.StatusBadRequest, "No lock manager configured")
		return
	}

	creds := jenkins.Credentials{Username: req.Username, APIToken: req.APIToken}
	if err := h.client.CheckCredentials(r.Context(), h.baseURL, creds); err != nil {
		h.respondLockManagerError(w, "check", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, model.Response{Status: "ok"})
}

// respondLockManagerError maps lock manager client errors onto HTTP
// statuses: credential rejections surface as 401 with the upstream
// message, everything else is the gateway's fault.
func (h *LockHandlers) respondLockManagerError(w http.ResponseWriter, action string, err error) {
	var authErr *jenkins.AuthError
	if errors.As(err, &authErr) {
		h.recordReservation(action, "unauthorized")
		respondError(w, h.logger, http.StatusUnauthorized, authErr.Error())
		return
	}

	h.logger.Error("Lock manager call failed",
		zap.String("action", action),
		zap.Error(err),
	)
	h.recordReservation(action, "failure")
	respondError(w, h.logger, http.StatusBadGateway, "Lock manager unavailable")
}

// recordSnapshot records a lock snapshot ingestion metric.
func (h *LockHandlers) recordSnapshot(status string) {
	if h.metrics != nil && h.metrics.LockSnapshotsTotal != nil {
		h.metrics.LockSnapshotsTotal.WithLabelValues(status).Inc()
	}
}

// recordReservation records a reservation forwarding metric.
func (h *LockHandlers) recordReservation(action, status string) {
	if h.metrics != nil && h.metrics.ReservationRequestsTotal != nil {
		h.metrics.ReservationRequestsTotal.WithLabelValues(action, status).Inc()
	}
}
