// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

const (
	// DefaultAddress is the coordinator bind and dial address.
	DefaultAddress = "127.0.0.1"
	// DefaultLogFile sends logs to stderr.
	DefaultLogFile = "-"
	// DefaultWaitTimeout bounds a single phase wait on the server.
	DefaultWaitTimeout = 30 * time.Second
	// DefaultPruneInterval is how often idle registry entries are swept.
	DefaultPruneInterval = time.Minute
	// DefaultMaxSessions bounds concurrently served connections.
	DefaultMaxSessions = 256
	// DefaultConnectTimeout bounds the hook's dial retries.
	DefaultConnectTimeout = 10 * time.Second
)

var (
	// ErrInvalidServerConfig is the sentinel error wrapped by InvalidServerConfigError.
	ErrInvalidServerConfig = errors.New("invalid server config")
	// ErrInvalidHookConfig is the sentinel error wrapped by InvalidHookConfigError.
	ErrInvalidHookConfig = errors.New("invalid hook config")
)

type (
	// ServerConfig holds the coordinator settings found under "server".
	ServerConfig struct {
		Address         string                     `json:"address" mapstructure:"address"`
		Port            types.ListenPort           `json:"port" mapstructure:"port"`
		LogFile         string                     `json:"log_file" mapstructure:"log_file"`
		WaitTimeout     time.Duration              `json:"wait_timeout" mapstructure:"wait_timeout"`
		IdleTimeout     time.Duration              `json:"idle_timeout" mapstructure:"idle_timeout"`
		PruneInterval   time.Duration              `json:"prune_interval" mapstructure:"prune_interval"`
		MaxSessions     int                        `json:"max_sessions" mapstructure:"max_sessions"`
		DeparturePolicy rendezvous.DeparturePolicy `json:"departure_policy" mapstructure:"departure_policy"`
		// AdminAddress enables the HTTP admin listener when non-empty.
		AdminAddress string `json:"admin_address,omitempty" mapstructure:"admin_address"`
		// Dependencies is pinned into the registry at startup.
		Dependencies map[string][]string `json:"dependencies,omitempty" mapstructure:"dependencies"`
	}

	// HookConfig is the per-entity configuration the CRIU action hook reads
	// from the images directory or the global config directory.
	HookConfig struct {
		ID           string
		Dependencies []string
		// Seed is set when the file declares dependencies as a map. The hook
		// sends it to the coordinator before its own phase request.
		Seed           map[string][]string
		Address        string
		Port           types.ListenPort
		LogFile        string
		Actions        []string
		ConnectTimeout time.Duration
	}

	// InvalidServerConfigError collects field-level validation errors.
	InvalidServerConfigError struct {
		FieldErrors []error
	}

	// InvalidHookConfigError collects field-level validation errors.
	InvalidHookConfigError struct {
		Path        string
		FieldErrors []error
	}
)

// DefaultServerConfig returns the settings used when nothing else is given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:         DefaultAddress,
		Port:            types.DefaultPort,
		LogFile:         DefaultLogFile,
		WaitTimeout:     DefaultWaitTimeout,
		IdleTimeout:     rendezvous.DefaultIdleTimeout,
		PruneInterval:   DefaultPruneInterval,
		MaxSessions:     DefaultMaxSessions,
		DeparturePolicy: rendezvous.PolicyShrink,
	}
}

// DefaultActions are the CRIU hook actions that synchronize with the
// coordinator when a hook config does not list its own.
func DefaultActions() []string {
	return []string{
		protocol.ActionPreStream,
		protocol.ActionPreDump,
		protocol.ActionPostDump,
		protocol.ActionPreRestore,
	}
}

// Validate checks constraints on the decoded values.
func (c ServerConfig) Validate() error {
	var errs []error
	if err := c.Port.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.LogFile) == "" {
		errs = append(errs, errors.New("log_file must not be empty"))
	}
	if c.WaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("wait_timeout must be positive, got %s", c.WaitTimeout))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout))
	}
	if c.PruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("prune_interval must be positive, got %s", c.PruneInterval))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("max_sessions must be at least 1, got %d", c.MaxSessions))
	}
	if err := c.DeparturePolicy.Validate(); err != nil {
		errs = append(errs, err)
	}
	for id, deps := range c.Dependencies {
		if err := rendezvous.EntityID(id).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("dependencies: %w", err))
		}
		for _, d := range deps {
			if err := rendezvous.EntityID(d).Validate(); err != nil {
				errs = append(errs, fmt.Errorf("dependencies[%s]: %w", id, err))
			}
		}
	}
	if len(errs) > 0 {
		return &InvalidServerConfigError{FieldErrors: errs}
	}
	return nil
}

// Listen returns the "host:port" the coordinator binds.
func (c ServerConfig) Listen() string { return c.Port.HostPort(c.Address) }

// Validate checks constraints on the decoded values.
func (c HookConfig) Validate() error {
	var errs []error
	if err := rendezvous.EntityID(c.ID).Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, d := range c.Dependencies {
		if err := rendezvous.EntityID(d).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("dependencies: %w", err))
		}
	}
	if c.Port == 0 {
		errs = append(errs, errors.New("port must be set"))
	} else if err := c.Port.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout))
	}
	if len(errs) > 0 {
		return &InvalidHookConfigError{FieldErrors: errs}
	}
	return nil
}

// Handles reports whether action should be forwarded to the coordinator.
func (c HookConfig) Handles(action string) bool {
	return slices.Contains(c.Actions, action)
}

// Error implements the error interface.
func (e *InvalidServerConfigError) Error() string {
	return fmt.Sprintf("invalid server config: %s", joinErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidServerConfig followed by the field errors.
func (e *InvalidServerConfigError) Unwrap() []error {
	return append([]error{ErrInvalidServerConfig}, e.FieldErrors...)
}

// Error implements the error interface.
func (e *InvalidHookConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid hook config %s: %s", e.Path, joinErrors(e.FieldErrors))
	}
	return fmt.Sprintf("invalid hook config: %s", joinErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidHookConfig followed by the field errors.
func (e *InvalidHookConfigError) Unwrap() []error {
	return append([]error{ErrInvalidHookConfig}, e.FieldErrors...)
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
