package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/devicelab/bridge/internal/config"
	"github.com/devicelab/bridge/internal/events"
	"github.com/devicelab/bridge/internal/health"
	"github.com/devicelab/bridge/internal/jenkins"
	"github.com/devicelab/bridge/internal/logger"
	"github.com/devicelab/bridge/internal/metrics"
	"github.com/devicelab/bridge/internal/registry"
	"github.com/devicelab/bridge/internal/server"
	"github.com/devicelab/bridge/internal/storage"
	"github.com/devicelab/bridge/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "service",
	Short: "Device build and lock bridge",
	Long:  `A bridge between CI build pipelines, the lock manager, and device dashboards.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit:  %s\n", commit)
		fmt.Printf("Built:   %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Configuration flags
	rootCmd.Flags().Int("api-port", 8080, "API server port")
	rootCmd.Flags().String("api-host", "0.0.0.0", "API server host")
	rootCmd.Flags().Int("probe-port", 8081, "Probe server port")
	rootCmd.Flags().String("probe-host", "0.0.0.0", "Probe server host")
	rootCmd.Flags().Int("metrics-port", 9090, "Metrics server port")
	rootCmd.Flags().String("metrics-host", "0.0.0.0", "Metrics server host")
	rootCmd.Flags().Bool("tls-enabled", false, "Enable TLS for API server")
	rootCmd.Flags().String("tls-cert", "", "Path to TLS certificate")
	rootCmd.Flags().String("tls-key", "", "Path to TLS key")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "json", "Log format (json, console)")
	rootCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout (e.g., 30s)")
	rootCmd.Flags().Duration("health-check-timeout", 5*time.Second, "Health check timeout (e.g., 5s)")
	rootCmd.Flags().Duration("health-cache-duration", 10*time.Second, "Health check cache duration (e.g., 10s)")

	// Device and lock manager flags
	rootCmd.Flags().String("devices-file", "devices.yaml", "Path to the device definitions file")
	rootCmd.Flags().String("jenkins-base-url", "", "Base URL of the lock manager")
	rootCmd.Flags().String("jenkins-username", "", "Service account username for the lock manager")
	rootCmd.Flags().String("jenkins-api-token", "", "Service account API token for the lock manager")
	rootCmd.Flags().Duration("jenkins-timeout", 10*time.Second, "Lock manager request timeout (e.g., 10s)")
	rootCmd.Flags().Duration("jenkins-poll-interval", 0, "Lock status poll interval (0 disables polling)")
	rootCmd.Flags().Int("events-buffer-size", 64, "Per-subscriber event buffer size")

	// Embedded store flags
	rootCmd.Flags().String("store-host", store.DefaultBindAddr, "Embedded store bind host")
	rootCmd.Flags().Int("store-port", store.DefaultBindPort, "Embedded store bind port")
	rootCmd.Flags().Int("store-partition-count", int(store.DefaultPartitionCount), "Embedded store partition count")
	rootCmd.Flags().String("store-log-level", "", "Embedded store log level (DEBUG/INFO/WARN/ERROR, defaults to main log level)")
	rootCmd.Flags().Duration("store-keep-alive-period", store.DefaultKeepAlivePeriod, "Embedded store keep alive period")
	rootCmd.Flags().Duration("store-request-timeout", store.DefaultRequestTimeout, "Embedded store request timeout")
	rootCmd.Flags().String("store-dmap-name", store.DefaultDMapName, "Embedded store map name for lock holders")

	// Bind flags to viper
	_ = viper.BindPFlag("api.port", rootCmd.Flags().Lookup("api-port"))
	_ = viper.BindPFlag("api.host", rootCmd.Flags().Lookup("api-host"))
	_ = viper.BindPFlag("probe.port", rootCmd.Flags().Lookup("probe-port"))
	_ = viper.BindPFlag("probe.host", rootCmd.Flags().Lookup("probe-host"))
	_ = viper.BindPFlag("metrics.port", rootCmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("metrics.host", rootCmd.Flags().Lookup("metrics-host"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls-enabled"))
	_ = viper.BindPFlag("tls.cert", rootCmd.Flags().Lookup("tls-cert"))
	_ = viper.BindPFlag("tls.key", rootCmd.Flags().Lookup("tls-key"))
	_ = viper.BindPFlag("log.level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.Flags().Lookup("log-format"))
	_ = viper.BindPFlag("shutdown.timeout", rootCmd.Flags().Lookup("shutdown-timeout"))
	_ = viper.BindPFlag("health.check_timeout", rootCmd.Flags().Lookup("health-check-timeout"))
	_ = viper.BindPFlag("health.cache_duration", rootCmd.Flags().Lookup("health-cache-duration"))
	_ = viper.BindPFlag("devices.file", rootCmd.Flags().Lookup("devices-file"))
	_ = viper.BindPFlag("jenkins.base_url", rootCmd.Flags().Lookup("jenkins-base-url"))
	_ = viper.BindPFlag("jenkins.username", rootCmd.Flags().Lookup("jenkins-username"))
	_ = viper.BindPFlag("jenkins.api_token", rootCmd.Flags().Lookup("jenkins-api-token"))
	_ = viper.BindPFlag("jenkins.timeout", rootCmd.Flags().Lookup("jenkins-timeout"))
	_ = viper.BindPFlag("jenkins.poll_interval", rootCmd.Flags().Lookup("jenkins-poll-interval"))
	_ = viper.BindPFlag("events.buffer_size", rootCmd.Flags().Lookup("events-buffer-size"))
	_ = viper.BindPFlag("store.host", rootCmd.Flags().Lookup("store-host"))
	_ = viper.BindPFlag("store.port", rootCmd.Flags().Lookup("store-port"))
	_ = viper.BindPFlag("store.partition_count", rootCmd.Flags().Lookup("store-partition-count"))
	_ = viper.BindPFlag("store.log_level", rootCmd.Flags().Lookup("store-log-level"))
	_ = viper.BindPFlag("store.keep_alive_period", rootCmd.Flags().Lookup("store-keep-alive-period"))
	_ = viper.BindPFlag("store.request_timeout", rootCmd.Flags().Lookup("store-request-timeout"))
	_ = viper.BindPFlag("store.dmap_name", rootCmd.Flags().Lookup("store-dmap-name"))
}

// storeConfig builds the embedded store configuration from viper. The store
// log level falls back to the main log level when not set explicitly.
func storeConfig(cfg *config.Config) *store.Config {
	storeCfg := store.NewDefaultConfig()
	storeCfg.BindAddr = viper.GetString("store.host")
	storeCfg.BindPort = viper.GetInt("store.port")
	if count := viper.GetInt("store.partition_count"); count > 0 {
		storeCfg.PartitionCount = uint64(count)
	}
	if level := viper.GetString("store.log_level"); level != "" {
		storeCfg.LogLevel = strings.ToUpper(level)
	} else {
		storeCfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	}
	if period := viper.GetDuration("store.keep_alive_period"); period > 0 {
		storeCfg.KeepAlivePeriod = period
	}
	if timeout := viper.GetDuration("store.request_timeout"); timeout > 0 {
		storeCfg.RequestTimeout = timeout
	}
	if name := viper.GetString("store.dmap_name"); name != "" {
		storeCfg.DMapName = name
	}
	return storeCfg
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting device bridge service",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	// Metrics with build info
	buildInfo := map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
	m := metrics.NewMetrics(cfg.MetricsNamespace, buildInfo)

	// Event fan-out
	router := events.NewRouter(log,
		events.WithBufferSize(cfg.EventBufferSize),
		events.WithRoutedCallback(func(eventType string) {
			m.EventsRoutedTotal.WithLabelValues(eventType).Inc()
		}),
		events.WithDropCallback(func(topic string) {
			m.EventsDroppedTotal.Inc()
		}),
	)

	// Embedded store mirroring the lock-holder snapshot
	storeCfg := storeConfig(cfg)
	if err := storeCfg.Validate(); err != nil {
		return fmt.Errorf("invalid store configuration: %w", err)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	kv, err := store.NewOlricStore(startCtx, storeCfg, log)
	if err != nil {
		return fmt.Errorf("failed to start embedded store: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := kv.Close(ctx); err != nil {
			log.Error("Error closing embedded store", zap.Error(err))
		}
	}()

	holders := storage.NewStoreHolderStore(kv, log)

	// Device registry
	reg := registry.New(log, router, holders)
	if err := reg.LoadDevices(cfg.DevicesFile); err != nil {
		return fmt.Errorf("failed to load device definitions: %w", err)
	}
	reg.PrimeHolders(startCtx)

	// Lock manager client
	lockClient := jenkins.NewClient(log, cfg.JenkinsTimeout)

	// Health manager and checkers
	healthManager := health.NewManager(log, cfg.HealthCheckCacheDuration, cfg.HealthCheckTimeout)
	healthManager.RegisterChecker(health.NewConfigChecker(log))
	healthManager.RegisterChecker(health.NewLoggerChecker(log))
	healthManager.RegisterChecker(health.NewServerChecker(log))
	healthManager.RegisterChecker(health.NewReadinessChecker(log))
	healthManager.RegisterChecker(store.NewConnectionChecker(log, kv))
	healthManager.RegisterChecker(store.NewRoundTripChecker(log, kv))
	healthManager.RegisterChecker(registry.NewDevicesChecker(log, reg))

	srv, err := server.New(cfg, log, server.Dependencies{
		Registry:   reg,
		Router:     router,
		Metrics:    m,
		Health:     healthManager,
		LockClient: lockClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := srv.WaitForServers(10 * time.Second); err != nil {
		log.Warn("Servers not confirmed listening", zap.Error(err))
	}
	healthManager.SetServersRunning(true)

	log.Info("Service started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutdown signal received")
	healthManager.SetShuttingDown(true)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}

	log.Info("Service stopped gracefully")
	return nil
}
