// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/checkpoint-restore/criu-coordinator/internal/testutil"
)

// ErrEngineClosed is returned by Arrive after Close.
var ErrEngineClosed = errors.New("rendezvous engine is closed")

type (
	// Engine owns the registry and the ledger and serializes every change
	// to them behind one mutex.
	Engine struct {
		mu       sync.Mutex
		registry *Registry
		ledger   *Ledger
		closed   bool

		logger   *log.Logger
		clock    testutil.Clock
		policy   DeparturePolicy
		idle     time.Duration
		observer Observer
		events   EventSink
	}

	// Arrival announces that an entity reached a phase. Dependencies are
	// merged into what the registry already knows about ID.
	Arrival struct {
		ID           EntityID
		Phase        Phase
		Dependencies []EntityID
		// Address is the remote address of the caller, kept for diagnostics.
		Address string
	}

	// Snapshot is a consistent copy of the engine state.
	Snapshot struct {
		Policy   DeparturePolicy `json:"policy"`
		Barriers []BarrierInfo   `json:"barriers"`
		Entities []EntityInfo    `json:"entities"`
	}
)

// Validate checks the ID, the phase and every dependency.
func (a Arrival) Validate() error {
	if err := a.ID.Validate(); err != nil {
		return err
	}
	if err := a.Phase.Validate(); err != nil {
		return err
	}
	for _, d := range a.Dependencies {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("dependency of %s: %w", a.ID, err)
		}
	}
	return nil
}

// New creates an engine with an empty registry and ledger.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		registry: NewRegistry(),
		ledger:   NewLedger(),
		logger:   log.New(io.Discard),
		clock:    testutil.RealClock{},
		policy:   PolicyShrink,
		idle:     DefaultIdleTimeout,
		observer: nopObserver{},
		events:   nopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Policy returns the configured departure policy.
func (e *Engine) Policy() DeparturePolicy { return e.policy }

// Seed registers and pins a dependency map, typically from configuration
// or an add-dependencies request.
func (e *Engine) Seed(m map[EntityID][]EntityID) error {
	for _, id := range sortedKeys(m) {
		if err := id.Validate(); err != nil {
			return err
		}
		for _, d := range m[id] {
			if err := d.Validate(); err != nil {
				return fmt.Errorf("dependency of %s: %w", id, err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.registry.Seed(m)
	e.logger.Debug("dependencies seeded", "entities", len(m))
	e.publish(Event{Kind: EventSeed, Members: sortedKeys(m)})
	e.gauges()
	return nil
}

// Arrive admits a into the barrier of its phase and returns a ticket that
// is resolved when the group is released. An entity without dependencies
// is released before Arrive returns.
func (e *Engine) Arrive(a Arrival) (*Ticket, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	defer e.gauges()

	now := e.clock.Now()
	e.registry.Register(a.ID, a.Dependencies)
	e.registry.Touch(a.ID, a.Address, now)
	e.observer.Arrived(a.Phase)

	t := newTicket(a.ID, a.Phase, now)
	deps := e.registry.DependenciesOf(a.ID)
	if len(deps) == 0 {
		e.checkIn(t)
		return t, nil
	}

	seed := newIDSet(deps...)
	seed.add(a.ID)
	b := e.gather(a.Phase, seed, now)
	b.admit(a.ID)
	retransmit := b.attach(t)
	e.expand(b)

	e.logger.Debug("arrival", "id", a.ID, "phase", a.Phase, "closure", b.expected.key(),
		"arrived", len(b.arrived), "expected", len(b.expected), "retransmit", retransmit, "remote", a.Address)
	e.publish(Event{Kind: EventArrival, Phase: a.Phase, ID: a.ID, Closure: b.expected.key()})

	e.evaluate(b)
	return t, nil
}

// Depart retracts a ticket whose holder disconnected. It returns false when
// the ticket was already resolved, in which case its outcome stands.
func (e *Engine) Depart(t *Ticket) bool { return e.retract(t, Departed) }

// Expire retracts a ticket whose holder stopped waiting. It returns false
// when the ticket was already resolved, in which case its outcome stands.
func (e *Engine) Expire(t *Ticket) bool { return e.retract(t, TimedOut) }

// Forget drops the registry entry of id. Pinned entities and entities
// expected by an open barrier are kept; the result reports removal.
func (e *Engine) Forget(id EntityID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.registry.Forget(id, e.ledger.busy) {
		return false
	}
	e.logger.Debug("entity forgotten", "id", id)
	e.gauges()
	return true
}

// Prune drops unpinned entities idle for longer than the idle timeout
// that no open barrier expects.
func (e *Engine) Prune() []EntityID {
	e.mu.Lock()
	defer e.mu.Unlock()

	pruned := e.registry.Prune(e.clock.Now(), e.idle, e.ledger.busy)
	if len(pruned) == 0 {
		return nil
	}
	e.logger.Debug("idle entities pruned", "count", len(pruned))
	e.observer.Pruned(len(pruned))
	e.publish(Event{Kind: EventPrune, Members: pruned})
	e.gauges()
	return pruned
}

// Snapshot returns a copy of the open barriers and the registry.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	barriers := e.ledger.all()
	s := Snapshot{
		Policy:   e.policy,
		Barriers: make([]BarrierInfo, 0, len(barriers)),
		Entities: e.registry.Snapshot(),
	}
	for _, b := range barriers {
		s.Barriers = append(s.Barriers, b.info())
	}
	return s
}

// Close aborts every open barrier and rejects further arrivals.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for _, b := range e.ledger.all() {
		e.abort(b, "engine closed")
	}
	e.gauges()
}

// checkIn releases an entity that has no dependencies. An open barrier that
// expects it records the arrival and is re-evaluated.
func (e *Engine) checkIn(t *Ticket) {
	if b, ok := e.ledger.lookup(t.phase, t.id); ok {
		b.admit(t.id)
		e.expand(b)
		e.evaluate(b)
	}
	t.resolve(Released)
	e.observer.Released(t.phase, 1, 0)
	e.logger.Debug("released without dependencies", "id", t.id, "phase", t.phase)
	e.publish(Event{Kind: EventRelease, Phase: t.phase, ID: t.id, Closure: string(t.id), Members: []EntityID{t.id}})
}

// gather returns the open barrier of phase that covers seed, merging every
// overlapping barrier into the oldest one, or opens a new barrier.
func (e *Engine) gather(phase Phase, seed idSet, now time.Time) *barrier {
	keys := e.ledger.overlapping(phase, seed, 0)
	if len(keys) == 0 {
		return e.ledger.open(phase, now)
	}
	b := e.ledger.barriers[keys[0]]
	for _, k := range keys[1:] {
		e.merge(b, k)
	}
	return b
}

// expand recomputes the expected set of b until it no longer overlaps any
// other open barrier of its phase, then re-indexes it.
func (e *Engine) expand(b *barrier) {
	for {
		b.recompute(e.registry)
		keys := e.ledger.overlapping(b.phase, b.expected, b.key)
		if len(keys) == 0 {
			break
		}
		for _, k := range keys {
			e.merge(b, k)
		}
	}
	e.ledger.index(b)
}

func (e *Engine) merge(into *barrier, from BarrierKey) {
	e.ledger.absorb(into, from)
	e.observer.Merged(into.phase)
	e.logger.Debug("barriers merged", "phase", into.phase, "into", into.key, "from", from)
	e.publish(Event{Kind: EventMerge, Phase: into.phase, Closure: into.expected.key()})
}

// evaluate releases b when every expected member has arrived and aborts it
// when its invariants do not hold.
func (e *Engine) evaluate(b *barrier) {
	if err := b.check(); err != nil {
		e.abort(b, err.Error())
		return
	}
	if !b.complete() {
		return
	}

	members := b.expected.sorted()
	closure := b.expected.key()
	resolved := b.resolveAll(Released)
	e.ledger.remove(b)

	waited := e.clock.Now().Sub(b.opened)
	e.observer.Released(b.phase, len(members), waited)
	e.logger.Info("group released", "phase", b.phase, "closure", closure, "waiters", resolved, "waited", waited)
	e.publish(Event{Kind: EventRelease, Phase: b.phase, Closure: closure, Members: members})
}

func (e *Engine) abort(b *barrier, reason string) {
	closure := b.expected.key()
	n := b.resolveAll(Aborted)
	e.ledger.remove(b)
	e.observer.Aborted(b.phase)
	e.logger.Error("barrier aborted", "phase", b.phase, "closure", closure, "waiters", n, "reason", reason)
	e.publish(Event{Kind: EventAbort, Phase: b.phase, Closure: closure, Members: b.arrived.sorted(), Detail: reason})
}

func (e *Engine) retract(t *Ticket, cause Outcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.resolved() {
		return false
	}
	defer e.gauges()

	t.resolve(cause)
	e.observer.Retracted(t.phase, cause)

	kind := EventDeparture
	if cause == TimedOut {
		kind = EventTimeout
	}

	b, ok := e.ledger.lookup(t.phase, t.id)
	if !ok {
		e.publish(Event{Kind: kind, Phase: t.phase, ID: t.id})
		return true
	}
	closure := b.expected.key()
	if _, empty := b.detach(t); !empty {
		e.publish(Event{Kind: kind, Phase: t.phase, ID: t.id, Closure: closure})
		return true
	}

	delete(b.arrived, t.id)
	if e.policy == PolicyRetain {
		b.retained.add(t.id)
	} else {
		b.departed.add(t.id)
	}
	e.logger.Warn("member left barrier", "id", t.id, "phase", t.phase, "closure", closure,
		"outcome", cause, "policy", e.policy)
	e.publish(Event{Kind: kind, Phase: t.phase, ID: t.id, Closure: closure})

	if len(b.waiters) == 0 {
		e.ledger.remove(b)
		e.logger.Debug("barrier dropped without waiters", "phase", b.phase, "closure", closure)
		return true
	}
	if e.policy == PolicyShrink {
		e.expand(b)
		e.evaluate(b)
	}
	return true
}

func (e *Engine) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.clock.Now()
	}
	e.events.Publish(ev)
}

func (e *Engine) gauges() {
	e.observer.Gauges(e.ledger.Len(), e.registry.Len())
}
