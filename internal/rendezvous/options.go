// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/checkpoint-restore/criu-coordinator/internal/testutil"
)

const (
	// PolicyShrink removes a retracted member from the barrier. Members
	// nobody else depends on stop being expected, which can complete the
	// barrier for the rest of the group.
	PolicyShrink DeparturePolicy = "shrink"
	// PolicyRetain keeps a retracted member expected until it rejoins.
	// A retraction never releases anyone.
	PolicyRetain DeparturePolicy = "retain"

	// DefaultIdleTimeout is how long an unpinned entity may stay idle
	// before Prune removes it.
	DefaultIdleTimeout = 10 * time.Minute
)

// ErrInvalidDeparturePolicy is the sentinel error wrapped by InvalidDeparturePolicyError.
var ErrInvalidDeparturePolicy = errors.New("invalid departure policy")

type (
	// DeparturePolicy decides what a timeout or disconnect does to the
	// barrier the member was waiting on.
	DeparturePolicy string

	// InvalidDeparturePolicyError is returned for unknown policy names.
	InvalidDeparturePolicyError struct {
		Value DeparturePolicy
	}

	// Option configures an Engine.
	Option func(*Engine)
)

// Validate returns an error for anything but shrink or retain.
func (p DeparturePolicy) Validate() error {
	switch p {
	case PolicyShrink, PolicyRetain:
		return nil
	default:
		return &InvalidDeparturePolicyError{Value: p}
	}
}

// String returns the policy name.
func (p DeparturePolicy) String() string { return string(p) }

// Error implements the error interface.
func (e *InvalidDeparturePolicyError) Error() string {
	return fmt.Sprintf("invalid departure policy %q (valid: %s, %s)", e.Value, PolicyShrink, PolicyRetain)
}

// Unwrap returns ErrInvalidDeparturePolicy for errors.Is() compatibility.
func (e *InvalidDeparturePolicyError) Unwrap() error { return ErrInvalidDeparturePolicy }

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source used for arrival and activity timestamps.
func WithClock(c testutil.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithPolicy sets the departure policy. Invalid values are rejected by New.
func WithPolicy(p DeparturePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithIdleTimeout sets how long unpinned entities survive without activity.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.idle = d }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithEventSink sets where engine events are published.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.events = s
		}
	}
}
