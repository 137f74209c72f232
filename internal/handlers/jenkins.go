package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/build"
	"github.com/devicelab/bridge/internal/metrics"
	"github.com/devicelab/bridge/internal/model"
	"github.com/devicelab/bridge/internal/registry"
)

// Build lifecycle actions accepted on the ingestion endpoint.
const (
	ActionBuildStart = "build-start"
	ActionBuildStop  = "build-stop"
	ActionStagePush  = "stage-push"
	ActionStagePop   = "stage-pop"
	ActionTaskPush   = "task-push"
	ActionTaskPop    = "task-pop"
)

// JenkinsHandlers ingests build lifecycle notifications from CI agents and
// applies them to the device registry.
type JenkinsHandlers struct {
	registry *registry.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewJenkinsHandlers creates a new JenkinsHandlers instance.
func NewJenkinsHandlers(registry *registry.Registry, logger *zap.Logger, metrics *metrics.Metrics) *JenkinsHandlers {
	return &JenkinsHandlers{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// HandleAction handles POST /jenkins/{action} requests from CI agents.
// Returns:
//   - 200 OK: Action applied
//   - 400 Bad Request: Unknown action, invalid body, or missing fields
//   - 404 Not Found: Unknown device
//   - 409 Conflict: Stage/task action with no active build
func (h *JenkinsHandlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	var req model.BuildActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode build action", zap.Error(err))
		h.recordMetric(action, "failure")
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Device = strings.TrimSpace(req.Device)
	if req.Device == "" {
		h.recordMetric(action, "failure")
		respondError(w, h.logger, http.StatusBadRequest, "Device is required")
		return
	}

	var err error
	switch action {
	case ActionBuildStart:
		if req.BuildName == "" {
			h.recordMetric(action, "failure")
			respondError(w, h.logger, http.StatusBadRequest, "Build name is required")
			return
		}
		_, err = h.registry.StartBuild(req.Device, req.BuildName, req.BuildLink)

	case ActionBuildStop:
		err = h.registry.EndBuild(req.Device, req.Result)

	case ActionStagePush:
		if req.Stage == "" {
			h.recordMetric(action, "failure")
			respondError(w, h.logger, http.StatusBadRequest, "Stage is required")
			return
		}
		err = h.registry.WithBuild(req.Device, func(b *build.Build) {
			b.PushStage(req.Stage)
		})

	case ActionStagePop:
		err = h.registry.WithBuild(req.Device, func(b *build.Build) {
			b.PopStage()
		})

	case ActionTaskPush:
		if req.Task == "" {
			h.recordMetric(action, "failure")
			respondError(w, h.logger, http.StatusBadRequest, "Task is required")
			return
		}
		err = h.registry.WithBuild(req.Device, func(b *build.Build) {
			b.PushTask(req.Task)
		})

	case ActionTaskPop:
		err = h.registry.WithBuild(req.Device, func(b *build.Build) {
			b.PopTask()
		})

	default:
		h.recordMetric(action, "failure")
		respondError(w, h.logger, http.StatusBadRequest, "Unknown action")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDeviceNotFound):
			h.recordMetric(action, "failure")
			respondError(w, h.logger, http.StatusNotFound, "Device not found")
		case errors.Is(err, registry.ErrNoActiveBuild):
			h.recordMetric(action, "conflict")
			respondError(w, h.logger, http.StatusConflict, "No active build for device")
		default:
			h.logger.Error("Failed to apply build action",
				zap.String("action", action),
				zap.String("device", req.Device),
				zap.Error(err),
			)
			h.recordMetric(action, "failure")
			respondError(w, h.logger, http.StatusInternalServerError, "Failed to apply action")
		}
		return
	}

	h.recordMetric(action, "success")
	respondJSON(w, h.logger, http.StatusOK, model.Response{Status: "ok"})
}

// recordMetric records a build action metric.
func (h *JenkinsHandlers) recordMetric(action, status string) {
	if h.metrics != nil && h.metrics.BuildActionsTotal != nil {
		h.metrics.BuildActionsTotal.WithLabelValues(action, status).Inc()
	}
}
