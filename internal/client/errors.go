// SPDX-License-Identifier: MPL-2.0

package client

import (
	"errors"
	"fmt"

	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

var (
	// ErrNotAcknowledged is the sentinel error wrapped by StatusError.
	ErrNotAcknowledged = errors.New("request not acknowledged")
	// ErrUnreachable is returned when no connection could be made within
	// the connect timeout.
	ErrUnreachable = errors.New("coordinator unreachable")
)

// StatusError reports a status token other than ACK.
type StatusError struct {
	Status protocol.Status
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("coordinator answered %q", e.Status)
}

// Unwrap returns ErrNotAcknowledged.
func (e *StatusError) Unwrap() error { return ErrNotAcknowledged }

// ExitCode returns the process exit code for the status.
func (e *StatusError) ExitCode() types.ExitCode { return e.Status.ExitCode() }

// ExitCodeOf returns the exit code err should end the process with:
// success for nil, the status mapping for a StatusError and failure otherwise.
func ExitCodeOf(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.ExitCode()
	}
	return types.ExitFailure
}
