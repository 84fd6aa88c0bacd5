// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
)

func TestHubDeliversInOrder(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	h.Publish(rendezvous.Event{Kind: rendezvous.EventArrival, ID: "a"})
	h.Publish(rendezvous.Event{Kind: rendezvous.EventRelease, Members: []rendezvous.EntityID{"a"}})

	assert.Equal(t, rendezvous.EventArrival, (<-sub.Events()).Kind)
	assert.Equal(t, rendezvous.EventRelease, (<-sub.Events()).Kind)
	assert.Equal(t, uint64(2), h.Published())
	assert.Zero(t, h.Dropped())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	h := NewHub(1)
	slow, err := h.Subscribe()
	require.NoError(t, err)
	defer slow.Close()

	h.Publish(rendezvous.Event{Kind: rendezvous.EventArrival, ID: "a"})
	h.Publish(rendezvous.Event{Kind: rendezvous.EventArrival, ID: "b"})

	ev := <-slow.Events()
	assert.Equal(t, rendezvous.EntityID("a"), ev.ID)
	assert.Equal(t, uint64(1), h.Dropped())
	assert.Len(t, slow.Events(), 0)
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	h := NewHub(0)
	sub, err := h.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers())

	h.Close()
	h.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok, "subscription channel should be closed")
	assert.Zero(t, h.Subscribers())

	sub.Close()
	_, err = h.Subscribe()
	require.ErrorIs(t, err, ErrHubClosed)

	// Publishing after close reaches nobody.
	h.Publish(rendezvous.Event{Kind: rendezvous.EventAbort})
	assert.Zero(t, h.Dropped())
}

func TestSubscriptionCloseTwice(t *testing.T) {
	t.Parallel()

	h := NewHub(2)
	sub, err := h.Subscribe()
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Zero(t, h.Subscribers())
}
