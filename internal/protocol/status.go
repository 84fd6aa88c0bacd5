// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

// Status tokens written by the server.
const (
	StatusACK       Status = "ACK"
	StatusTimeout   Status = "timeout"
	StatusMalformed Status = "malformed request"
	StatusBusy      Status = "server busy"
	StatusAborted   Status = "aborted"
)

// maxStatusSize bounds how much of a response ReadStatus consumes.
const maxStatusSize = 256

// ErrUnknownStatus is returned by ParseStatus for unrecognized tokens.
var ErrUnknownStatus = errors.New("unknown status token")

// Status is the single token a server writes before closing a connection.
type Status string

// ExitCode maps the status to the exit code reported to CRIU.
func (s Status) ExitCode() types.ExitCode {
	switch s {
	case StatusACK:
		return types.ExitSuccess
	case StatusTimeout:
		return types.ExitTimeout
	case StatusMalformed:
		return types.ExitMalformed
	case StatusBusy:
		return types.ExitBusy
	default:
		return types.ExitFailure
	}
}

// String returns the raw token.
func (s Status) String() string { return string(s) }

// StatusFor maps an engine outcome to the token sent to the client.
// A departed ticket never gets a response; it maps to aborted.
func StatusFor(o rendezvous.Outcome) Status {
	switch o {
	case rendezvous.Released:
		return StatusACK
	case rendezvous.TimedOut:
		return StatusTimeout
	default:
		return StatusAborted
	}
}

// ParseStatus recognizes a status token, ignoring surrounding whitespace.
func ParseStatus(token string) (Status, error) {
	s := Status(strings.TrimSpace(token))
	switch s {
	case StatusACK, StatusTimeout, StatusMalformed, StatusBusy, StatusAborted:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, token)
	}
}

// WriteStatus writes the raw token.
func WriteStatus(w io.Writer, s Status) error {
	_, err := io.WriteString(w, string(s))
	return err
}

// ReadStatus reads the response until the server closes the connection.
func ReadStatus(r io.Reader) (Status, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxStatusSize))
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}
	return ParseStatus(string(data))
}
