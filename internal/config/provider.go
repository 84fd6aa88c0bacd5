// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// ErrInvalidLoadOptions is the sentinel error wrapped by InvalidLoadOptionsError.
var ErrInvalidLoadOptions = errors.New("invalid load options")

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// Flags, when set, overrides file values with any flag named in
		// ServerFlagKeys that was changed on the command line.
		Flags *pflag.FlagSet
	}

	// InvalidLoadOptionsError is returned by LoadOptions.Validate.
	InvalidLoadOptionsError struct {
		FieldErrors []error
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		LoadServer(ctx context.Context, opts LoadOptions) (*ServerConfig, error)
		LoadHook(ctx context.Context, imagesDir string) (*HookConfig, error)
	}

	fileProvider struct{}
)

// NewProvider creates a configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// LoadServer resolves coordinator settings.
func (p *fileProvider) LoadServer(ctx context.Context, opts LoadOptions) (*ServerConfig, error) {
	cfg, _, err := loadServer(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadHook finds and reads the hook config for imagesDir.
func (p *fileProvider) LoadHook(ctx context.Context, imagesDir string) (*HookConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load hook config canceled: %w", err)
	}
	path, err := FindHookConfig(imagesDir)
	if err != nil {
		return nil, err
	}
	return LoadHookFile(path)
}

// Validate rejects whitespace-only paths.
func (o LoadOptions) Validate() error {
	var errs []error
	if o.ConfigFilePath != "" && strings.TrimSpace(o.ConfigFilePath) == "" {
		errs = append(errs, errors.New("config file path must not be whitespace"))
	}
	if len(errs) > 0 {
		return &InvalidLoadOptionsError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidLoadOptionsError) Error() string {
	return fmt.Sprintf("invalid load options: %s", joinErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidLoadOptions for errors.Is() compatibility.
func (e *InvalidLoadOptionsError) Unwrap() error { return ErrInvalidLoadOptions }
