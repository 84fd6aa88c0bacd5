// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCUEPath is returned when a CUEPath is empty.
var ErrInvalidCUEPath = errors.New("invalid CUE path")

type (
	// CUEPath is a JSON-path style location inside a CUE value,
	// e.g. "server.wait_timeout" or "dependencies[1]".
	CUEPath string

	// InvalidCUEPathError describes why a CUEPath was rejected.
	InvalidCUEPathError struct {
		Value CUEPath
	}
)

// Error implements the error interface.
func (e *InvalidCUEPathError) Error() string {
	return fmt.Sprintf("invalid CUE path %q: must not be empty", string(e.Value))
}

// Unwrap returns ErrInvalidCUEPath.
func (e *InvalidCUEPathError) Unwrap() error { return ErrInvalidCUEPath }

// Validate reports whether the path names a location.
func (p CUEPath) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return &InvalidCUEPathError{Value: p}
	}
	return nil
}

// String implements fmt.Stringer.
func (p CUEPath) String() string { return string(p) }
