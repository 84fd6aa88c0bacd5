// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// ExitSuccess means the group was synchronized.
	ExitSuccess ExitCode = 0
	// ExitFailure is the generic failure code (aborted barrier, config or usage error).
	ExitFailure ExitCode = 1
	// ExitTimeout means the coordinator gave up waiting for the dependency group.
	ExitTimeout ExitCode = 2
	// ExitMalformed means the coordinator rejected the request.
	ExitMalformed ExitCode = 3
	// ExitBusy means the coordinator had no free session slot.
	ExitBusy ExitCode = 4
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is the process exit status reported to the CRIU action-script
	// caller. Anything but ExitSuccess tells the caller to abort the phase.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside the valid range (0-255).
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code tells the caller to proceed.
func (c ExitCode) IsSuccess() bool { return c == ExitSuccess }

// IsRetryable returns true for outcomes where re-running the phase may succeed:
// a timeout (a peer may simply have been late) or a busy coordinator.
func (c ExitCode) IsRetryable() bool { return c == ExitTimeout || c == ExitBusy }

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
