package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/handlers"
	"github.com/devicelab/bridge/internal/health"
	"github.com/devicelab/bridge/internal/jenkins"
	"github.com/devicelab/bridge/internal/middleware"
)

// setupAPIRoutes configures the API server routes.
func (s *Server) setupAPIRoutes(r *chi.Mux) {
	r.Get("/ping", handlePing(s.logger))

	deviceHandlers := handlers.NewDeviceHandlers(s.deps.Registry, s.logger)
	r.Get("/devices", deviceHandlers.HandleList)
	r.Get("/devices/{device}", deviceHandlers.HandleGet)

	jenkinsHandlers := handlers.NewJenkinsHandlers(s.deps.Registry, s.logger, s.deps.Metrics)
	r.Post("/jenkins/{action}", jenkinsHandlers.HandleAction)

	creds := jenkins.Credentials{
		Username: s.cfg.JenkinsUsername,
		APIToken: s.cfg.JenkinsAPIToken,
	}
	lockHandlers := handlers.NewLockHandlers(
		s.deps.Registry, s.deps.LockClient, s.cfg.JenkinsBaseURL, creds, s.logger, s.deps.Metrics)
	r.Post("/locks/status", lockHandlers.HandleStatus)
	r.Post("/devices/{device}/reservation", lockHandlers.HandleReservation)
	r.Post("/credentials/check", lockHandlers.HandleCredentialsCheck)

	eventHandlers := handlers.NewEventHandlers(s.deps.Router, s.logger, s.deps.Metrics)
	r.Get("/events", eventHandlers.HandleStream)
}

// setupProbeRoutes configures the probe server routes.
func (s *Server) setupProbeRoutes(r *chi.Mux) {
	startup := handleStartup(s.logger, s.deps.Health)
	live := handleLiveness(s.logger, s.deps.Health)
	ready := handleReadiness(s.logger, s.deps.Health)

	if s.deps.Metrics != nil {
		r.With(middleware.HealthCheckMetricsMiddleware(s.deps.Metrics, "startup")).
			Get("/healthz/startup", startup)
		r.With(middleware.HealthCheckMetricsMiddleware(s.deps.Metrics, "live")).
			Get("/healthz/live", live)
		r.With(middleware.HealthCheckMetricsMiddleware(s.deps.Metrics, "ready")).
			Get("/healthz/ready", ready)
		return
	}

	r.Get("/healthz/startup", startup)
	r.Get("/healthz/live", live)
	r.Get("/healthz/ready", ready)
}

// handlePing handles the /ping endpoint.
func handlePing(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"status": "pong",
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("Failed to encode ping response", zap.Error(err))
		}
	}
}

// handleStartup handles the startup probe endpoint.
func handleStartup(logger *zap.Logger, manager *health.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetStartupStatus(r.Context())

		status := http.StatusOK
		if response.Status != health.StatusOK {
			status = http.StatusServiceUnavailable
		}
		writeProbeResponse(w, logger, status, response)
	}
}

// handleLiveness handles the liveness probe endpoint.
func handleLiveness(logger *zap.Logger, manager *health.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbeResponse(w, logger, http.StatusOK, manager.GetLivenessStatus())
	}
}

// handleReadiness handles the readiness probe endpoint.
func handleReadiness(logger *zap.Logger, manager *health.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetReadinessStatus(r.Context())

		status := http.StatusOK
		if !response.Ready {
			status = http.StatusServiceUnavailable
		}
		writeProbeResponse(w, logger, status, response)
	}
}

// writeProbeResponse writes a probe response as JSON.
func writeProbeResponse(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode probe response", zap.Error(err))
	}
}
