package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/olric-data/olric"
	"github.com/olric-data/olric/config"
	"go.uber.org/zap"
)

// OlricStore implements Store on top of an embedded single-node Olric
// server.
type OlricStore struct {
	config *Config
	logger *zap.Logger
	db     *olric.Olric
	client *olric.EmbeddedClient
	dmap   olric.DMap
}

// NewOlricStore starts an embedded Olric server and opens the holder DMap.
func NewOlricStore(ctx context.Context, cfg *Config, logger *zap.Logger) (*OlricStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	s := &OlricStore{
		config: cfg,
		logger: logger,
	}

	logger.Info("Starting embedded store",
		zap.String("bind_addr", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort)),
		zap.String("dmap", cfg.DMapName),
	)

	db, err := olric.New(s.olricConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create store instance: %w", err)
	}
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("failed to start store: %w", err)
	}
	s.db = db
	s.client = db.NewEmbeddedClient()

	dmap, err := s.client.NewDMap(cfg.DMapName)
	if err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to open dmap %q: %w", cfg.DMapName, err)
	}
	s.dmap = dmap

	logger.Info("Embedded store ready")
	return s, nil
}

// olricConfig maps Config onto Olric's own configuration, routing Olric's
// internal log lines through a level filter so they respect our log level.
func (s *OlricStore) olricConfig() *config.Config {
	logFilter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(s.config.LogLevel),
		Writer:   io.Discard,
	}
	if s.config.LogLevel == "DEBUG" || s.config.LogLevel == "INFO" {
		logFilter.Writer = os.Stdout
	}

	c := config.New("local")
	c.BindAddr = s.config.BindAddr
	c.BindPort = s.config.BindPort
	c.KeepAlivePeriod = s.config.KeepAlivePeriod
	c.PartitionCount = s.config.PartitionCount
	c.ReplicaCount = 1
	c.ReadQuorum = 1
	c.WriteQuorum = 1
	c.MemberCountQuorum = 1
	c.LogLevel = s.config.LogLevel
	c.Logger = log.New(logFilter, "", log.LstdFlags)
	return c
}

// Put stores a value with an optional TTL.
func (s *OlricStore) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl > 0 {
		return s.dmap.Put(ctx, key, value, olric.EX(ttl))
	}
	return s.dmap.Put(ctx, key, value)
}

// Get retrieves a value for the given key.
func (s *OlricStore) Get(ctx context.Context, key string) (interface{}, error) {
	resp, err := s.dmap.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var result interface{}
	if err := resp.Scan(&result); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a value for the given key. Idempotent.
func (s *OlricStore) Delete(ctx context.Context, key string) error {
	_, err := s.dmap.Delete(ctx, key)
	if err != nil && err.Error() != "key not found" {
		return err
	}
	return nil
}

// Exists checks if a key exists in the store.
func (s *OlricStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.dmap.Get(ctx, key)
	if err != nil {
		if err.Error() == "key not found" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ping verifies the embedded server is listening.
func (s *OlricStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store is not running")
	}

	addr := net.JoinHostPort(s.config.BindAddr, fmt.Sprintf("%d", s.config.BindPort))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer conn.Close()

	return nil
}

// Close gracefully shuts down the embedded server.
func (s *OlricStore) Close(ctx context.Context) error {
	s.logger.Info("Shutting down embedded store")

	if s.db == nil {
		return nil
	}
	if err := s.db.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down store", zap.Error(err))
		return err
	}

	s.logger.Info("Embedded store shut down")
	return nil
}
