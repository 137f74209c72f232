package store

import (
	"fmt"
	"net"
	"time"
)

// Defaults for the embedded store.
const (
	DefaultBindAddr        = "127.0.0.1"
	DefaultBindPort        = 3320
	DefaultPartitionCount  = 23
	DefaultLogLevel        = "WARN"
	DefaultKeepAlivePeriod = 30 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
	DefaultDMapName        = "lock-holders"
)

// Config holds the configuration for the embedded Olric store. The service
// runs a single in-process node; there is no cluster formation.
type Config struct {
	// BindAddr is the address the embedded server binds to.
	BindAddr string

	// BindPort is the port the embedded server binds to.
	BindPort int

	// PartitionCount is the number of partitions for the distributed map.
	// A small prime is plenty for a single node holding one snapshot.
	PartitionCount uint64

	// LogLevel filters Olric's internal logging (DEBUG/INFO/WARN/ERROR).
	LogLevel string

	// KeepAlivePeriod is the TCP keep-alive period.
	KeepAlivePeriod time.Duration

	// RequestTimeout bounds individual store requests.
	RequestTimeout time.Duration

	// DMapName is the distributed map holding the lock-holder snapshot.
	DMapName string
}

// NewDefaultConfig returns a Config with defaults suitable for the
// single-node deployment.
func NewDefaultConfig() *Config {
	return &Config{
		BindAddr:        DefaultBindAddr,
		BindPort:        DefaultBindPort,
		PartitionCount:  DefaultPartitionCount,
		LogLevel:        DefaultLogLevel,
		KeepAlivePeriod: DefaultKeepAlivePeriod,
		RequestTimeout:  DefaultRequestTimeout,
		DMapName:        DefaultDMapName,
	}
}

// Validate checks the store configuration.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind address cannot be empty")
	}
	if net.ParseIP(c.BindAddr) == nil {
		return fmt.Errorf("bind address must be a valid IP address, got: %s", c.BindAddr)
	}
	if c.BindPort < 1 || c.BindPort > 65535 {
		return fmt.Errorf("bind port must be between 1 and 65535, got: %d", c.BindPort)
	}
	if c.PartitionCount < 1 {
		return fmt.Errorf("partition count must be at least 1, got: %d", c.PartitionCount)
	}

	validLogLevels := map[string]bool{
		"DEBUG": true,
		"INFO":  true,
		"WARN":  true,
		"ERROR": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid store log level: %s (must be DEBUG, INFO, WARN, or ERROR)", c.LogLevel)
	}

	if c.KeepAlivePeriod <= 0 {
		return fmt.Errorf("keep alive period must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.DMapName == "" {
		return fmt.Errorf("dmap name cannot be empty")
	}

	return nil
}
