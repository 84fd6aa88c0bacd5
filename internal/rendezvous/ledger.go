// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"slices"
	"time"
)

type (
	// Ledger is the arena of open barriers. Within one phase the expected
	// sets of open barriers are disjoint, so a (phase, entity) pair maps to
	// at most one barrier. It is not synchronized; the Engine guards it.
	Ledger struct {
		next     BarrierKey
		barriers map[BarrierKey]*barrier
		byPhase  map[Phase]map[BarrierKey]struct{}
		members  map[memberKey]BarrierKey
	}

	memberKey struct {
		phase Phase
		id    EntityID
	}
)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		barriers: make(map[BarrierKey]*barrier),
		byPhase:  make(map[Phase]map[BarrierKey]struct{}),
		members:  make(map[memberKey]BarrierKey),
	}
}

// Len returns the number of open barriers.
func (l *Ledger) Len() int { return len(l.barriers) }

func (l *Ledger) open(phase Phase, now time.Time) *barrier {
	l.next++
	b := newBarrier(l.next, phase, now)
	l.barriers[b.key] = b
	keys, ok := l.byPhase[phase]
	if !ok {
		keys = make(map[BarrierKey]struct{})
		l.byPhase[phase] = keys
	}
	keys[b.key] = struct{}{}
	return b
}

// lookup returns the open barrier of phase that expects id.
func (l *Ledger) lookup(phase Phase, id EntityID) (*barrier, bool) {
	key, ok := l.members[memberKey{phase, id}]
	if !ok {
		return nil, false
	}
	b, ok := l.barriers[key]
	return b, ok
}

// overlapping returns the keys of open barriers of phase, other than
// except, that expect any member of ids. Keys are sorted so merges happen
// in creation order.
func (l *Ledger) overlapping(phase Phase, ids idSet, except BarrierKey) []BarrierKey {
	found := make(map[BarrierKey]struct{})
	for id := range ids {
		if key, ok := l.members[memberKey{phase, id}]; ok && key != except {
			found[key] = struct{}{}
		}
	}
	return sortedKeys(found)
}

// absorb merges the barrier stored under from into into and invalidates
// from. The caller re-indexes into afterwards.
func (l *Ledger) absorb(into *barrier, from BarrierKey) {
	src, ok := l.barriers[from]
	if !ok || src == into {
		return
	}
	into.expected.union(src.expected)
	into.arrived.union(src.arrived)
	into.departed.union(src.departed)
	into.retained.union(src.retained)
	for id, w := range src.waiters {
		if dst, ok := into.waiters[id]; ok {
			dst.tickets = append(dst.tickets, w.tickets...)
			continue
		}
		into.waiters[id] = w
	}
	if src.opened.Before(into.opened) {
		into.opened = src.opened
	}
	l.remove(src)
}

// index points every expected member of b at b and drops entries that
// still point at b for members it no longer expects.
func (l *Ledger) index(b *barrier) {
	for id := range b.expected {
		l.members[memberKey{b.phase, id}] = b.key
	}
	for mk, key := range l.members {
		if key == b.key && !b.expected.has(mk.id) {
			delete(l.members, mk)
		}
	}
}

func (l *Ledger) remove(b *barrier) {
	delete(l.barriers, b.key)
	if keys, ok := l.byPhase[b.phase]; ok {
		delete(keys, b.key)
		if len(keys) == 0 {
			delete(l.byPhase, b.phase)
		}
	}
	for mk, key := range l.members {
		if key == b.key {
			delete(l.members, mk)
		}
	}
}

// busy reports whether id is expected by any open barrier of any phase.
func (l *Ledger) busy(id EntityID) bool {
	for phase := range l.byPhase {
		if _, ok := l.members[memberKey{phase, id}]; ok {
			return true
		}
	}
	return false
}

// all returns the open barriers ordered by phase, then key.
func (l *Ledger) all() []*barrier {
	out := make([]*barrier, 0, len(l.barriers))
	for _, key := range sortedKeys(l.barriers) {
		out = append(out, l.barriers[key])
	}
	slices.SortStableFunc(out, func(a, b *barrier) int {
		switch {
		case a.phase < b.phase:
			return -1
		case a.phase > b.phase:
			return 1
		}
		return 0
	})
	return out
}
