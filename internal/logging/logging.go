// SPDX-License-Identifier: MPL-2.0

// Package logging builds the charmbracelet/log loggers used by the server,
// the client and the CRIU action hook.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// Stderr is the log-file value that selects standard error.
	Stderr = "-"
	// EnvLevel overrides the log level when set.
	EnvLevel = "CRIU_COORDINATOR_LOG_LEVEL"

	// FormatText, FormatJSON and FormatLogfmt select the log formatter.
	FormatText   = "text"
	FormatJSON   = "json"
	FormatLogfmt = "logfmt"
)

type (
	// Options configures New.
	Options struct {
		// Prefix is printed before every message ("server", "client", ...).
		Prefix string
		// File is Stderr, an absolute path, or a path relative to Dir.
		File string
		// Dir anchors relative log files; CRIU passes the images directory.
		Dir string
		// Level is a charmbracelet/log level name; empty means info.
		Level string
		// Verbose forces the debug level.
		Verbose bool
		// Format is text (default), json or logfmt.
		Format string
	}

	nopCloser struct{}
)

func (nopCloser) Close() error { return nil }

// New builds a logger for opts. The returned closer releases the log file
// and must be called once the logger is no longer used.
func New(opts Options) (*log.Logger, io.Closer, error) {
	level, err := resolveLevel(opts)
	if err != nil {
		return nil, nil, err
	}
	formatter, err := resolveFormatter(opts.Format)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if path := ResolvePath(opts.File, opts.Dir); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", path, err)
		}
		w, closer = f, f
	}

	logger := log.NewWithOptions(w, log.Options{
		Prefix:          opts.Prefix,
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	return logger, closer, nil
}

// ResolvePath returns the log file path for file, or "" for standard error.
func ResolvePath(file, dir string) string {
	if file == "" || file == Stderr {
		return ""
	}
	if filepath.IsAbs(file) || dir == "" {
		return file
	}
	return filepath.Join(dir, file)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func resolveLevel(opts Options) (log.Level, error) {
	if opts.Verbose {
		return log.DebugLevel, nil
	}
	name := opts.Level
	if env := os.Getenv(EnvLevel); env != "" {
		name = env
	}
	if name == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.ToLower(name))
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func resolveFormatter(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return log.TextFormatter, nil
	case FormatJSON:
		return log.JSONFormatter, nil
	case FormatLogfmt:
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("invalid log format %q (valid: %s, %s, %s)", format, FormatText, FormatJSON, FormatLogfmt)
	}
}
