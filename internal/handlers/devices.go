package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/model"
	"github.com/devicelab/bridge/internal/registry"
)

// deviceListResponse is the body of the device listing endpoint.
type deviceListResponse struct {
	Devices []model.DeviceSummary `json:"devices"`
}

// DeviceHandlers provides HTTP handlers for device views.
type DeviceHandlers struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewDeviceHandlers creates a new DeviceHandlers instance.
func NewDeviceHandlers(registry *registry.Registry, logger *zap.Logger) *DeviceHandlers {
	return &DeviceHandlers{
		registry: registry,
		logger:   logger,
	}
}

// HandleList handles GET /devices requests.
func (h *DeviceHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, deviceListResponse{
		Devices: h.registry.List(),
	})
}

// HandleGet handles GET /devices/{device} requests.
// Returns:
//   - 200 OK: Device detail returned
//   - 404 Not Found: Unknown device
func (h *DeviceHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "device")

	view, err := h.registry.Get(id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			respondError(w, h.logger, http.StatusNotFound, "Device not found")
			return
		}
		h.logger.Error("Failed to get device", zap.String("device", id), zap.Error(err))
		respondError(w, h.logger, http.StatusInternalServerError, "Failed to get device")
		return
	}

	respondJSON(w, h.logger, http.StatusOK, view)
}
