// SPDX-License-Identifier: MPL-2.0

package server

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/checkpoint-restore/criu-coordinator/internal/testutil"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

const (
	// DefaultReadTimeout bounds how long a caller may take to send its request.
	DefaultReadTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds how long Stop waits for sessions to
	// deliver their final status.
	DefaultShutdownTimeout = 5 * time.Second
)

type (
	// Config holds immutable settings for a Server.
	Config struct {
		// Address is the host to bind (default: 127.0.0.1).
		Address string
		// Port is the port to listen on (0 = auto-select).
		Port types.ListenPort
		// WaitTimeout bounds a single phase wait.
		WaitTimeout time.Duration
		// ReadTimeout bounds reading the request.
		ReadTimeout time.Duration
		// PruneInterval is how often idle registry entries are swept.
		PruneInterval time.Duration
		// MaxSessions bounds concurrent sessions; further connections are
		// answered with "server busy".
		MaxSessions int
		// ShutdownTimeout bounds Stop.
		ShutdownTimeout time.Duration
		// Seed is pinned into the registry when the server starts.
		Seed map[string][]string
	}

	// Option configures a Server.
	Option func(*Server)
)

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Address:         "127.0.0.1",
		Port:            types.DefaultPort,
		WaitTimeout:     30 * time.Second,
		ReadTimeout:     DefaultReadTimeout,
		PruneInterval:   time.Minute,
		MaxSessions:     256,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = d.PruneInterval
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock driving wait timeouts and the prune janitor.
func WithClock(c testutil.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRegisterer registers transport metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registerer = reg }
}
