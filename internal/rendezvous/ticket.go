// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"context"
	"time"
)

const (
	// Pending means the ticket has not been resolved yet.
	Pending Outcome = iota
	// Released means the whole group reached the phase.
	Released
	// TimedOut means the holder gave up waiting.
	TimedOut
	// Departed means the holder disconnected while waiting.
	Departed
	// Aborted means the barrier was dropped, either because its internal
	// state was inconsistent or because the engine shut down.
	Aborted
)

type (
	// Outcome is the final state of a Ticket.
	Outcome int

	// Ticket is the handle returned by Engine.Arrive. It is resolved exactly
	// once, always while the engine mutex is held.
	Ticket struct {
		id      EntityID
		phase   Phase
		arrived time.Time
		done    chan struct{}
		outcome Outcome
	}
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Released:
		return "released"
	case TimedOut:
		return "timeout"
	case Departed:
		return "departed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func newTicket(id EntityID, phase Phase, now time.Time) *Ticket {
	return &Ticket{id: id, phase: phase, arrived: now, done: make(chan struct{})}
}

// ID returns the entity that arrived.
func (t *Ticket) ID() EntityID { return t.id }

// Phase returns the phase the entity arrived at.
func (t *Ticket) Phase() Phase { return t.phase }

// Arrived returns the engine time of the arrival.
func (t *Ticket) Arrived() time.Time { return t.arrived }

// Done is closed once the ticket is resolved.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome returns the resolved outcome, or Pending.
func (t *Ticket) Outcome() Outcome {
	select {
	case <-t.done:
		return t.outcome
	default:
		return Pending
	}
}

// Wait blocks until the ticket is resolved or ctx is done. On cancellation
// the ticket stays registered; the caller must Depart or Expire it.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
}

// resolve must be called with the engine mutex held.
func (t *Ticket) resolve(o Outcome) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	t.outcome = o
	close(t.done)
	return true
}

func (t *Ticket) resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
