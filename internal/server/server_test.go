// SPDX-License-Identifier: MPL-2.0

package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkpoint-restore/criu-coordinator/internal/core/serverbase"
	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/internal/testutil"
)

const (
	testWait  = 30 * time.Second
	testPrune = time.Hour
	// waitFor bounds real-time polling in tests.
	waitFor = 5 * time.Second
)

type harness struct {
	srv    *Server
	engine *rendezvous.Engine
	clock  *testutil.FakeClock
	logs   *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T, cfg Config, engineOpts ...rendezvous.Option) *harness {
	t.Helper()

	clock := testutil.NewFakeClock(time.Time{})
	logs := &syncBuffer{}
	logger := log.NewWithOptions(logs, log.Options{Level: log.DebugLevel})

	engine, err := rendezvous.New(append([]rendezvous.Option{
		rendezvous.WithClock(clock),
		rendezvous.WithLogger(logger),
	}, engineOpts...)...)
	require.NoError(t, err)

	cfg.Port = 0
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = testWait
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = testPrune
	}
	srv, err := New(cfg, engine, WithClock(clock), WithLogger(logger), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })

	// The janitor arms one timer as soon as it runs.
	require.True(t, clock.WaitForTimers(1, waitFor), "janitor did not start")
	return &harness{srv: srv, engine: engine, clock: clock, logs: logs}
}

// send opens a connection, writes req and returns the connection with the
// response still unread.
func (h *harness) send(t *testing.T, req protocol.Request) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", h.srv.Address(), waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, protocol.Encode(conn, req))
	return conn
}

func (h *harness) phase(t *testing.T, id, action string, deps ...string) net.Conn {
	t.Helper()
	req, err := protocol.NewPhaseRequest(id, action, deps, "", false)
	require.NoError(t, err)
	return h.send(t, req)
}

func readStatus(t *testing.T, conn net.Conn) protocol.Status {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	st, err := protocol.ReadStatus(conn)
	require.NoError(t, err)
	return st
}

// waitArrived blocks until n entities are waiting in open barriers.
func (h *harness) waitArrived(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		arrived := 0
		for _, b := range h.engine.Snapshot().Barriers {
			arrived += len(b.Arrived)
		}
		return arrived == n
	}, waitFor, time.Millisecond)
}

func TestMutualPairSynchronizes(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	a := h.phase(t, "a", protocol.ActionPreDump, "b")
	h.waitArrived(t, 1)
	b := h.phase(t, "b", protocol.ActionPreDump, "a")

	assert.Equal(t, protocol.StatusACK, readStatus(t, a))
	assert.Equal(t, protocol.StatusACK, readStatus(t, b))
	assert.Empty(t, h.engine.Snapshot().Barriers)
}

func TestNoDependenciesReleasedImmediately(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	assert.Equal(t, protocol.StatusACK, readStatus(t, h.phase(t, "solo", protocol.ActionPostDump)))
}

func TestWaitTimeout(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	a := h.phase(t, "a", protocol.ActionPreDump, "missing")
	h.waitArrived(t, 1)
	require.True(t, h.clock.WaitForTimers(2, waitFor))
	h.clock.Advance(testWait)

	assert.Equal(t, protocol.StatusTimeout, readStatus(t, a))
}

func TestTimeoutOfOnlyDependency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy rendezvous.DeparturePolicy
		want   protocol.Status
	}{
		{rendezvous.PolicyShrink, protocol.StatusACK},
		{rendezvous.PolicyRetain, protocol.StatusTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()
			h := startServer(t, Config{}, rendezvous.WithPolicy(tt.policy))

			// a waits for b and c; b waits for a. Only a and b show up.
			a := h.phase(t, "a", protocol.ActionPreDump, "b", "c")
			h.waitArrived(t, 1)
			require.True(t, h.clock.WaitForTimers(2, waitFor))
			h.clock.Advance(testWait / 2)

			b := h.phase(t, "b", protocol.ActionPreDump, "a")
			h.waitArrived(t, 2)
			require.True(t, h.clock.WaitForTimers(3, waitFor))

			h.clock.Advance(testWait / 2)
			assert.Equal(t, protocol.StatusTimeout, readStatus(t, a))

			// Under retain b keeps waiting for a until its own timeout.
			if tt.policy == rendezvous.PolicyRetain {
				h.waitArrived(t, 1)
				h.clock.Advance(testWait / 2)
			}
			assert.Equal(t, tt.want, readStatus(t, b))
		})
	}
}

func TestMalformedRequest(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "hello\n"},
		{name: "empty id", body: `{"id":"","action":"pre-dump"}`},
		{name: "dependencies as a list", body: `{"id":"a","action":"pre-dump","dependencies":["b"]}`},
		{name: "whitespace phase", body: `{"id":"a","action":"pre dump"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.DialTimeout("tcp", h.srv.Address(), waitFor)
			require.NoError(t, err)
			defer func() { _ = conn.Close() }()
			_, err = conn.Write([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, protocol.StatusMalformed, readStatus(t, conn))
		})
	}
	assert.Empty(t, h.engine.Snapshot().Entities)
}

func TestSeedThenArriveWithoutDependencies(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	req, err := protocol.NewSeedRequest(map[string][]string{"web": {"db"}, "db": {"web"}})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusACK, readStatus(t, h.send(t, req)))

	web := h.phase(t, "web", protocol.ActionPreDump)
	h.waitArrived(t, 1)
	db := h.phase(t, "db", protocol.ActionPreDump)

	assert.Equal(t, protocol.StatusACK, readStatus(t, web))
	assert.Equal(t, protocol.StatusACK, readStatus(t, db))
}

func TestConfiguredSeedAndAsymmetricWarning(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{Seed: map[string][]string{"a": {"b"}, "b": {}}})

	assert.Contains(t, h.logs.String(), "one-sided dependency")
	assert.Contains(t, h.logs.String(), "a -> b")

	a := h.phase(t, "a", protocol.ActionPreRestore)
	h.waitArrived(t, 1)
	b := h.phase(t, "b", protocol.ActionPreRestore)
	assert.Equal(t, protocol.StatusACK, readStatus(t, b))
	assert.Equal(t, protocol.StatusACK, readStatus(t, a))
}

func TestReseedMergesIntoRegistry(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{Seed: map[string][]string{"a": {"b"}, "b": {"a"}}})

	require.NoError(t, h.srv.Reseed(map[string][]string{"a": {"c"}, "c": {"a"}}))
	entities := h.engine.Snapshot().Entities
	require.Len(t, entities, 3)
	for _, e := range entities {
		assert.True(t, e.Pinned, "%s should be pinned", e.ID)
	}

	require.Error(t, h.srv.Reseed(map[string][]string{"bad:id": nil}))
}

func TestServerBusy(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{MaxSessions: 1})

	first := h.phase(t, "a", protocol.ActionPreDump, "b")
	h.waitArrived(t, 1)

	second := h.phase(t, "b", protocol.ActionPreDump, "a")
	assert.Equal(t, protocol.StatusBusy, readStatus(t, second))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.srv.metrics.responses.WithLabelValues("server busy")))

	require.True(t, h.clock.WaitForTimers(2, waitFor))
	h.clock.Advance(testWait)
	assert.Equal(t, protocol.StatusTimeout, readStatus(t, first))
}

func TestServerBusyConsumesRequest(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{MaxSessions: 1})

	h.phase(t, "a", protocol.ActionPreDump, "b")
	h.waitArrived(t, 1)

	// Much more input than the reply; left unread it would reset the
	// connection on close.
	deps := make([]string, 2000)
	for i := range deps {
		deps[i] = fmt.Sprintf("dep-%d", i)
	}
	req, err := protocol.NewPhaseRequest("b", protocol.ActionPreDump, deps, "", false)
	require.NoError(t, err)
	conn := h.send(t, req)

	assert.Equal(t, protocol.StatusBusy, readStatus(t, conn))
	assert.Equal(t, 2, h.srv.Sessions(), "refused connection is tracked until the caller hangs up")
	barriers := h.engine.Snapshot().Barriers
	require.Len(t, barriers, 1)
	assert.Equal(t, []rendezvous.EntityID{"a"}, barriers[0].Arrived, "refused request never reaches the engine")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.srv.Sessions() == 1 }, waitFor, time.Millisecond)
}

func TestDisconnectWhileWaitingDeparts(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	a := h.phase(t, "a", protocol.ActionPreDump, "b")
	h.waitArrived(t, 1)
	require.NoError(t, a.Close())

	require.Eventually(t, func() bool {
		s := h.engine.Snapshot()
		return len(s.Barriers) == 0 && len(s.Entities) == 0
	}, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return h.srv.Sessions() == 0 }, waitFor, time.Millisecond)
}

func TestStopAbortsWaiters(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	a := h.phase(t, "a", protocol.ActionPreDump, "b")
	h.waitArrived(t, 1)

	done := make(chan protocol.Status, 1)
	go func() {
		_ = a.SetReadDeadline(time.Now().Add(waitFor))
		st, _ := protocol.ReadStatus(a)
		done <- st
	}()

	require.NoError(t, h.srv.Stop())
	assert.Equal(t, serverbase.StateStopped, h.srv.State())
	assert.Equal(t, protocol.StatusAborted, <-done)

	// A second Stop is a no-op.
	require.NoError(t, h.srv.Stop())
}

func TestJanitorPrunesIdleEntities(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{PruneInterval: time.Minute}, rendezvous.WithIdleTimeout(time.Second))

	assert.Equal(t, protocol.StatusACK, readStatus(t, h.phase(t, "solo", protocol.ActionPreDump)))
	require.Len(t, h.engine.Snapshot().Entities, 1)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(h.engine.Snapshot().Entities) == 0 }, waitFor, time.Millisecond)
}

func TestNewAndStartErrors(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)

	engine, err := rendezvous.New()
	require.NoError(t, err)

	_, err = New(Config{Port: 70000}, engine)
	require.Error(t, err)

	srv, err := New(Config{Port: 0}, engine)
	require.NoError(t, err)
	assert.Empty(t, srv.Address())
	assert.Zero(t, srv.Port())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, srv.Start(ctx))
	assert.Equal(t, serverbase.StateFailed, srv.State())
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()
	h := startServer(t, Config{})

	assert.NotZero(t, h.srv.Port())
	require.Error(t, h.srv.Start(context.Background()))
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	d := DefaultConfig()
	assert.Equal(t, d.Address, cfg.Address)
	assert.Equal(t, d.WaitTimeout, cfg.WaitTimeout)
	assert.Equal(t, d.ReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, d.MaxSessions, cfg.MaxSessions)
	assert.Equal(t, d.ShutdownTimeout, cfg.ShutdownTimeout)
}
