// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
)

// ValidationError is a single schema violation located by CUE path.
type ValidationError struct {
	FilePath string
	CUEPath  CUEPath
	Message  string

	// Suggestion is an optional hint; it is not part of Error().
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.CUEPath != "" {
		return fmt.Sprintf("%s: %s: %s", e.FilePath, e.CUEPath, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns nil (ValidationError is a leaf error).
func (e *ValidationError) Unwrap() error {
	return nil
}

// FormatError rewrites a CUE error as "<file>: <json-path>: <message>",
// one line per underlying error.
//
// Examples:
//   - coordinator.cue: server.port: invalid value 70000 (out of bound <=65535)
//   - criu-coordinator.json: dependencies: conflicting values "a" and [...string]
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	if !isCUEError(err) {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	cueErrors := errors.Errors(err)

	lines := make([]string, 0, len(cueErrors))
	for _, e := range cueErrors {
		ve := newValidationError(e, filePath)
		if ve.CUEPath != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", ve.CUEPath, ve.Message))
		} else {
			lines = append(lines, ve.Message)
		}
	}

	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", filePath, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", filePath, strings.Join(lines, "\n  "))
}

// ValidationErrors splits a CUE error into located ValidationErrors.
// A non-CUE error yields a single entry without a path.
func ValidationErrors(err error, filePath string) []*ValidationError {
	if err == nil {
		return nil
	}
	if !isCUEError(err) {
		return []*ValidationError{{FilePath: filePath, Message: err.Error()}}
	}
	cueErrors := errors.Errors(err)
	out := make([]*ValidationError, 0, len(cueErrors))
	for _, e := range cueErrors {
		out = append(out, newValidationError(e, filePath))
	}
	return out
}

// isCUEError reports whether err carries CUE positions. errors.Errors
// promotes any other error to a CUE error, which would drop its chain.
func isCUEError(err error) bool {
	var cueErr errors.Error
	return errors.As(err, &cueErr)
}

func newValidationError(e errors.Error, filePath string) *ValidationError {
	pathStr := formatPath(errors.Path(e))
	msg := e.Error()

	// CUE sometimes repeats the path at the head of the message.
	if pathStr != "" && strings.HasPrefix(msg, pathStr) {
		msg = strings.TrimPrefix(msg, pathStr)
		msg = strings.TrimPrefix(msg, ":")
		msg = strings.TrimSpace(msg)
	}
	return &ValidationError{FilePath: filePath, CUEPath: CUEPath(pathStr), Message: msg}
}

// formatPath converts ["dependencies", "1"] into "dependencies[1]".
// Leading definition selectors such as "#Peer" are dropped so the path
// matches the user's file.
func formatPath(path []string) string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	if len(path) == 0 {
		return ""
	}

	var result strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			result.WriteString("[")
			result.WriteString(part)
			result.WriteString("]")
			continue
		}
		if i > 0 {
			result.WriteString(".")
		}
		result.WriteString(part)
	}

	return result.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize verifies that data does not exceed maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes",
			filename, len(data), maxSize)
	}
	return nil
}
