// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultMaxGoroutines is the liveness ceiling on running goroutines.
	DefaultMaxGoroutines = 10000
	// DefaultDialTimeout bounds the readiness dial to the coordinator.
	DefaultDialTimeout = time.Second
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 5 * time.Second

	readHeaderTimeout = 5 * time.Second
	writeWait         = 5 * time.Second
)

type (
	// Config holds the admin listener settings.
	Config struct {
		// Address is the "host:port" to bind; port 0 picks a free port.
		Address         string
		MaxGoroutines   int
		DialTimeout     time.Duration
		ShutdownTimeout time.Duration
	}

	// Coordinator is the TCP listener the readiness probe checks.
	Coordinator interface {
		IsRunning() bool
		Address() string
	}

	// Option configures a Server.
	Option func(*Server)
)

func (c Config) withDefaults() Config {
	if c.MaxGoroutines <= 0 {
		c.MaxGoroutines = DefaultMaxGoroutines
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry sets the registry exposed on /metrics. Health check gauges
// and hub counters are registered on it as well.
func WithRegistry(r *prometheus.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithHub sets the hub /events subscribes to. It should be the same hub
// the engine publishes to.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithCoordinator sets the listener the readiness probe checks.
func WithCoordinator(c Coordinator) Option {
	return func(s *Server) { s.coordinator = c }
}
