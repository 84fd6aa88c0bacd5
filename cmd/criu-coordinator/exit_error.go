// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

// ExitError carries the status a CRIU action script must exit with out of a
// RunE handler. Execute unwraps it, so timeout, busy and malformed replies
// from the coordinator reach CRIU as distinct exit codes instead of 1.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("criu-coordinator exited with status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}
