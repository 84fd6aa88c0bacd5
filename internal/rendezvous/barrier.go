// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"fmt"
	"slices"
	"time"
)

type (
	// BarrierKey identifies an open barrier in the ledger arena. Keys are
	// never reused; a merged-away barrier's key simply stops resolving.
	BarrierKey uint64

	barrier struct {
		key    BarrierKey
		phase  Phase
		opened time.Time

		expected idSet
		arrived  idSet
		// departed holds members that retracted under PolicyShrink; they
		// are not expected unless they arrive again.
		departed idSet
		// retained holds members that retracted under PolicyRetain; they
		// stay expected until they rejoin.
		retained idSet
		waiters  map[EntityID]*waiter
	}

	// waiter is the single slot an arrived member holds in a barrier.
	// Retransmitted arrivals add tickets to the same slot.
	waiter struct {
		tickets []*Ticket
	}

	// BarrierInfo is a read-only view of an open barrier.
	BarrierInfo struct {
		Key      BarrierKey `json:"key"`
		Phase    Phase      `json:"phase"`
		Closure  string     `json:"closure"`
		Expected []EntityID `json:"expected"`
		Arrived  []EntityID `json:"arrived"`
		Waiting  []EntityID `json:"waiting"`
		Departed []EntityID `json:"departed,omitempty"`
		Retained []EntityID `json:"retained,omitempty"`
		Opened   time.Time  `json:"opened"`
	}
)

func newBarrier(key BarrierKey, phase Phase, now time.Time) *barrier {
	return &barrier{
		key:      key,
		phase:    phase,
		opened:   now,
		expected: make(idSet),
		arrived:  make(idSet),
		departed: make(idSet),
		retained: make(idSet),
		waiters:  make(map[EntityID]*waiter),
	}
}

// admit records id as arrived, undoing an earlier retraction.
func (b *barrier) admit(id EntityID) {
	b.arrived.add(id)
	delete(b.departed, id)
	delete(b.retained, id)
}

// attach adds t to the waiter slot of its entity. It reports whether the
// slot already existed.
func (b *barrier) attach(t *Ticket) bool {
	w, ok := b.waiters[t.id]
	if !ok {
		w = &waiter{}
		b.waiters[t.id] = w
	}
	w.tickets = append(w.tickets, t)
	return ok
}

// detach removes t from its slot and reports whether the slot is now empty
// (and was removed).
func (b *barrier) detach(t *Ticket) (found, empty bool) {
	w, ok := b.waiters[t.id]
	if !ok {
		return false, false
	}
	i := slices.Index(w.tickets, t)
	if i < 0 {
		return false, false
	}
	w.tickets = slices.Delete(w.tickets, i, i+1)
	if len(w.tickets) > 0 {
		return true, false
	}
	delete(b.waiters, t.id)
	return true, true
}

// recompute rebuilds expected from the members that still count. Departed
// members stay out of expected until they arrive again.
func (b *barrier) recompute(r *Registry) {
	for id := range b.arrived {
		delete(b.departed, id)
		delete(b.retained, id)
	}
	base := b.arrived.clone()
	base.union(b.retained)
	b.expected = r.closure(base)
	for id := range b.departed {
		delete(b.expected, id)
	}
}

func (b *barrier) complete() bool {
	return len(b.arrived) > 0 && b.arrived.equal(b.expected)
}

// check verifies the structural invariants of the barrier.
func (b *barrier) check() error {
	if !b.arrived.subsetOf(b.expected) {
		return fmt.Errorf("barrier %d (%s): arrived %v not a subset of expected %v",
			b.key, b.phase, b.arrived.sorted(), b.expected.sorted())
	}
	for id := range b.waiters {
		if !b.arrived.has(id) {
			return fmt.Errorf("barrier %d (%s): waiter for %s which has not arrived", b.key, b.phase, id)
		}
	}
	for id := range b.departed {
		if b.expected.has(id) {
			return fmt.Errorf("barrier %d (%s): departed member %s still expected", b.key, b.phase, id)
		}
	}
	return nil
}

// resolveAll resolves every ticket of every waiter and returns the number
// of tickets resolved.
func (b *barrier) resolveAll(o Outcome) int {
	n := 0
	for _, w := range b.waiters {
		for _, t := range w.tickets {
			if t.resolve(o) {
				n++
			}
		}
	}
	return n
}

func (b *barrier) waiting() []EntityID {
	ids := make(idSet, len(b.waiters))
	for id := range b.waiters {
		ids.add(id)
	}
	return ids.sorted()
}

func (b *barrier) info() BarrierInfo {
	return BarrierInfo{
		Key:      b.key,
		Phase:    b.phase,
		Closure:  b.expected.key(),
		Expected: b.expected.sorted(),
		Arrived:  b.arrived.sorted(),
		Waiting:  b.waiting(),
		Departed: b.departed.sorted(),
		Retained: b.retained.sorted(),
		Opened:   b.opened,
	}
}
