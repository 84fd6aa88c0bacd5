// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
)

// DefaultSubscriberBuffer is the number of events queued per subscriber
// before further events are dropped for it.
const DefaultSubscriberBuffer = 64

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("event hub closed")

type (
	// Hub fans engine events out to subscribers. It implements
	// rendezvous.EventSink and never blocks the engine: a subscriber whose
	// queue is full misses the event.
	Hub struct {
		buffer int

		mu     sync.Mutex
		subs   map[*Subscription]struct{}
		closed bool

		published atomic.Uint64
		dropped   atomic.Uint64
	}

	// Subscription receives events until it or its hub is closed.
	Subscription struct {
		hub    *Hub
		events chan rendezvous.Event
	}
)

// NewHub creates a hub with the given per-subscriber queue size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[*Subscription]struct{})}
}

// Publish implements rendezvous.EventSink.
func (h *Hub) Publish(ev rendezvous.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.published.Add(1)
	for s := range h.subs {
		select {
		case s.events <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	s := &Subscription{hub: h, events: make(chan rendezvous.Event, h.buffer)}
	h.subs[s] = struct{}{}
	return s, nil
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.events)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published returns the number of events received from the engine.
func (h *Hub) Published() uint64 { return h.published.Load() }

// Dropped returns the number of deliveries skipped for full queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Events returns the channel events are delivered on. It is closed when
// the subscription ends.
func (s *Subscription) Events() <-chan rendezvous.Event { return s.events }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.events)
}
