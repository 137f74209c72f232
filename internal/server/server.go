// Package server runs the three HTTP servers (API, probe, metrics) and
// the background lock status poller.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/config"
	"github.com/devicelab/bridge/internal/events"
	"github.com/devicelab/bridge/internal/health"
	"github.com/devicelab/bridge/internal/jenkins"
	"github.com/devicelab/bridge/internal/lockdoc"
	"github.com/devicelab/bridge/internal/metrics"
	"github.com/devicelab/bridge/internal/middleware"
	"github.com/devicelab/bridge/internal/registry"
)

// StatusFetcher retrieves the raw lock status document from the lock
// manager. Implemented by jenkins.Client.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, baseURL string, creds jenkins.Credentials) ([]byte, error)
}

// Dependencies carries the constructed components the server wires into
// its routes and background loops.
type Dependencies struct {
	Registry   *registry.Registry
	Router     *events.Router
	Metrics    *metrics.Metrics
	Health     *health.Manager
	LockClient *jenkins.Client

	// StatusFetcher overrides LockClient for polling; used by tests. When
	// nil, LockClient is used.
	StatusFetcher StatusFetcher
}

// Server manages the three HTTP servers (API, Probe, Metrics).
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Dependencies

	apiServer     *http.Server
	probeServer   *http.Server
	metricsServer *http.Server

	shutdownChan chan struct{}
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*Server, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("server requires a device registry")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("server requires an event router")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("server requires metrics")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("server requires a health manager")
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		deps:         deps,
		shutdownChan: make(chan struct{}),
	}

	if deps.StatusFetcher == nil && deps.LockClient != nil {
		s.deps.StatusFetcher = deps.LockClient
	}

	s.setupServers()
	return s, nil
}

// setupServers configures the three HTTP servers.
func (s *Server) setupServers() {
	// API Server
	s.apiServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler:      s.setupAPIRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the event stream stays open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSEnabled {
		s.apiServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Probe Server
	s.probeServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.ProbeHost, s.cfg.ProbePort),
		Handler:      s.setupProbeRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	// Metrics Server
	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.MetricsHost, s.cfg.MetricsPort),
		Handler:      s.setupMetricsRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

// setupAPIRouter creates the API server router with middleware.
func (s *Server) setupAPIRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.LoggingMiddleware(s.logger, "api"))
	r.Use(middleware.RecovererMiddleware(s.logger))
	r.Use(middleware.MetricsMiddleware(s.deps.Metrics, s.logger))

	s.setupAPIRoutes(r)
	return r
}

// setupProbeRouter creates the probe server router.
func (s *Server) setupProbeRouter() *chi.Mux {
	r := chi.NewRouter()
	s.setupProbeRoutes(r)
	return r
}

// setupMetricsRouter creates the metrics server router.
func (s *Server) setupMetricsRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(
		s.deps.Metrics.Registry(),
		promhttp.HandlerOpts{},
	))
	return r
}

// Start starts all three HTTP servers and the background loops.
func (s *Server) Start() error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Starting API server", zap.String("addr", s.apiServer.Addr))

		var err error
		if s.cfg.TLSEnabled {
			err = s.apiServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.apiServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Start probe server
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Starting probe server", zap.String("addr", s.probeServer.Addr))

		if err := s.probeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("probe server error: %w", err)
		}
	}()

	// Start metrics server
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Starting metrics server", zap.String("addr", s.metricsServer.Addr))

		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Wait a bit to see if any server fails to start
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-errChan:
		return err
	default:
		go s.updateRuntimeMetrics()
		s.startPoller()
		return nil
	}
}

// startPoller begins periodic lock status polling when an interval and a
// lock manager are configured.
func (s *Server) startPoller() {
	if s.cfg.PollInterval <= 0 || s.deps.StatusFetcher == nil || s.cfg.JenkinsBaseURL == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})

	go s.pollLockStatus(ctx)
}

// pollLockStatus fetches, parses, and reconciles the lock status snapshot
// on every tick. A failed fetch or parse keeps the previous holder state.
func (s *Server) pollLockStatus(ctx context.Context) {
	defer close(s.pollDone)

	s.logger.Info("Starting lock status poller",
		zap.Duration("interval", s.cfg.PollInterval),
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	creds := jenkins.Credentials{
		Username: s.cfg.JenkinsUsername,
		APIToken: s.cfg.JenkinsAPIToken,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		body, err := s.deps.StatusFetcher.FetchStatus(ctx, s.cfg.JenkinsBaseURL, creds)
		if err != nil {
			s.logger.Warn("Failed to fetch lock status", zap.Error(err))
			s.deps.Metrics.LockSnapshotsTotal.WithLabelValues("fetch-error").Inc()
			continue
		}

		holders, err := lockdoc.Parse(body)
		if err != nil {
			s.logger.Warn("Rejected polled lock status document", zap.Error(err))
			s.deps.Metrics.LockSnapshotsTotal.WithLabelValues("invalid").Inc()
			continue
		}

		s.deps.Registry.Reconcile(ctx, holders)
		s.deps.Metrics.LockSnapshotsTotal.WithLabelValues("parsed").Inc()
	}
}

// updateRuntimeMetrics keeps the uptime and runtime gauges current.
func (s *Server) updateRuntimeMetrics() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.deps.Metrics.AppUptimeSeconds.Inc()
			s.deps.Metrics.UpdateRuntimeMetrics()
		case <-s.shutdownChan:
			return
		}
	}
}

// Shutdown gracefully shuts down all servers and background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down servers gracefully")

	close(s.shutdownChan)

	if s.pollCancel != nil {
		s.pollCancel()
		<-s.pollDone
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// Shutdown API server first
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Shutting down API server")
		if err := s.apiServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("API server shutdown error: %w", err)
		}
	}()

	// Shutdown metrics server second
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Shutting down metrics server")
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("metrics server shutdown error: %w", err)
		}
	}()

	// Shutdown probe server last
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Shutting down probe server")
		if err := s.probeServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("probe server shutdown error: %w", err)
		}
	}()

	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			return err
		}
	}

	s.logger.Info("All servers shut down successfully")
	return nil
}

// WaitForServers waits for all servers to be ready.
func (s *Server) WaitForServers(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if s.checkServer(s.apiServer.Addr) &&
			s.checkServer(s.probeServer.Addr) &&
			s.checkServer(s.metricsServer.Addr) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("servers did not become ready within %s", timeout)
}

// checkServer checks if a server is listening on the given address.
func (s *Server) checkServer(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
