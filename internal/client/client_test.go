// SPDX-License-Identifier: MPL-2.0

package client_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkpoint-restore/criu-coordinator/internal/client"
	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/internal/server"
	"github.com/checkpoint-restore/criu-coordinator/internal/testutil"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

const waitFor = 5 * time.Second

func startCoordinator(t *testing.T, wait time.Duration) *server.Server {
	t.Helper()
	engine, err := rendezvous.New()
	require.NoError(t, err)

	cfg := server.DefaultConfig()
	cfg.Port = 0
	cfg.WaitTimeout = wait
	srv, err := server.New(cfg, engine)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(testutil.DeferStop(t, srv))
	return srv
}

func newClient(t *testing.T, srv *server.Server) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{
		Address:        "127.0.0.1",
		Port:           types.ListenPort(srv.Port()),
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestArriveMutualPair(t *testing.T) {
	t.Parallel()
	srv := startCoordinator(t, waitFor)
	c := newClient(t, srv)

	ctx := context.Background()
	errs := make(chan error, 2)
	go func() { errs <- c.Arrive(ctx, "a", protocol.ActionPreDump, []string{"b"}, "", false) }()
	go func() { errs <- c.Arrive(ctx, "b", protocol.ActionPreDump, []string{"a"}, "", false) }()

	for range 2 {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("pair was not released")
		}
	}
}

func TestArriveTimeout(t *testing.T) {
	t.Parallel()
	srv := startCoordinator(t, 100*time.Millisecond)
	c := newClient(t, srv)

	err := c.Arrive(context.Background(), "a", protocol.ActionPreDump, []string{"missing"}, "", false)
	require.ErrorIs(t, err, client.ErrNotAcknowledged)

	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.StatusTimeout, se.Status)
	assert.Equal(t, types.ExitTimeout, client.ExitCodeOf(err))
}

func TestMalformedRequest(t *testing.T) {
	t.Parallel()
	srv := startCoordinator(t, waitFor)
	c := newClient(t, srv)

	err := c.Send(context.Background(), protocol.Request{ID: " a", Action: protocol.ActionPreDump})
	assert.Equal(t, types.ExitMalformed, client.ExitCodeOf(err))
}

func TestSeedDependenciesThenArrive(t *testing.T) {
	t.Parallel()
	srv := startCoordinator(t, waitFor)
	c := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.SeedDependencies(ctx, map[string][]string{"web": {"db"}, "db": {"web"}}))

	errs := make(chan error, 2)
	go func() { errs <- c.Arrive(ctx, "web", protocol.ActionPreRestore, nil, "", false) }()
	go func() { errs <- c.Arrive(ctx, "db", protocol.ActionPreRestore, nil, "", false) }()
	for range 2 {
		require.NoError(t, <-errs)
	}
}

func TestUnreachable(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	c, err := client.New(client.Config{Address: "127.0.0.1", Port: port, ConnectTimeout: 200 * time.Millisecond})
	require.NoError(t, err)

	err = c.Arrive(context.Background(), "a", protocol.ActionPreDump, nil, "", false)
	require.ErrorIs(t, err, client.ErrUnreachable)
	assert.Equal(t, types.ExitFailure, client.ExitCodeOf(err))
}

func TestDialRetriesUntilListening(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	c, err := client.New(client.Config{Address: "127.0.0.1", Port: port, ConnectTimeout: waitFor})
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		ln, err := net.Listen("tcp", port.HostPort("127.0.0.1"))
		if err != nil {
			return
		}
		defer func() { _ = ln.Close() }()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		if _, err := protocol.Decode(conn); err != nil {
			return
		}
		_ = protocol.WriteStatus(conn, protocol.StatusACK)
	}()

	require.NoError(t, c.Arrive(context.Background(), "solo", protocol.ActionPostDump, nil, "", false))
}

func TestContextCanceledWhileWaiting(t *testing.T) {
	t.Parallel()
	srv := startCoordinator(t, time.Minute)
	c := newClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Arrive(ctx, "a", protocol.ActionPreDump, []string{"b"}, "", false) }()

	require.Eventually(t, func() bool {
		return len(srv.Engine().Snapshot().Barriers) == 1
	}, waitFor, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Arrive did not return after cancel")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  client.Config
	}{
		{name: "empty address", cfg: client.Config{Port: 8080}},
		{name: "zero port", cfg: client.Config{Address: "127.0.0.1"}},
		{name: "port out of range", cfg: client.Config{Address: "127.0.0.1", Port: 70000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := client.New(tt.cfg)
			require.Error(t, err)
		})
	}

	c, err := client.New(client.Config{Address: "10.0.0.1", Port: 8080})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", c.Target())
}

func TestExitCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{name: "nil", err: nil, want: types.ExitSuccess},
		{name: "busy", err: &client.StatusError{Status: protocol.StatusBusy}, want: types.ExitBusy},
		{name: "aborted", err: &client.StatusError{Status: protocol.StatusAborted}, want: types.ExitFailure},
		{name: "wrapped timeout", err: errors.Join(errors.New("ctx"), &client.StatusError{Status: protocol.StatusTimeout}), want: types.ExitTimeout},
		{name: "other", err: errors.New("boom"), want: types.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, client.ExitCodeOf(tt.err))
		})
	}
}

// freePort returns a port nothing is listening on.
func freePort(t *testing.T) types.ListenPort {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return types.ListenPort(port)
}
