// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/checkpoint-restore/criu-coordinator/internal/core/serverbase"
	"github.com/checkpoint-restore/criu-coordinator/internal/depgraph"
	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/internal/testutil"
)

// Server is the coordinator's TCP listener.
// A Server instance is single-use: once stopped or failed, create a new instance.
type Server struct {
	*serverbase.Base

	cfg        Config
	engine     *rendezvous.Engine
	logger     *log.Logger
	clock      testutil.Clock
	registerer prometheus.Registerer
	metrics    *metrics

	mu       sync.Mutex
	listener net.Listener
	addr     string
	pool     *ants.Pool

	conns cmap.ConcurrentMap[string, *tracked]
	seq   atomic.Uint64
}

// tracked is a live connection; waiting is set once its arrival is in a
// barrier, after which shutdown lets it report "aborted" before closing it.
type tracked struct {
	conn    net.Conn
	waiting atomic.Bool
}

// New creates a server for engine. The server is not started; call Start.
func New(cfg Config, engine *rendezvous.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("server: nil engine")
	}
	s := &Server{
		Base:   serverbase.NewBase(serverbase.WithName("coordinator")),
		cfg:    cfg.withDefaults(),
		engine: engine,
		logger: log.NewWithOptions(io.Discard, log.Options{}),
		clock:  testutil.RealClock{},
		conns:  cmap.New[*tracked](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Port.Validate(); err != nil {
		return nil, err
	}

	m, err := newMetrics(s.registerer)
	if err != nil {
		return nil, fmt.Errorf("register server metrics: %w", err)
	}
	s.metrics = m
	return s, nil
}

// Start seeds the registry, binds the listener and begins accepting
// connections. It returns once the server is running.
func (s *Server) Start(ctx context.Context) error {
	if err := s.TransitionToStarting(ctx); err != nil {
		return err
	}

	if err := s.seed(); err != nil {
		s.TransitionToFailed(err)
		return err
	}

	pool, err := ants.NewPool(s.cfg.MaxSessions,
		ants.WithNonblocking(true),
		ants.WithLogger(s.logger),
		ants.WithPanicHandler(func(p any) {
			s.logger.Error("session panicked", "panic", p)
		}),
	)
	if err != nil {
		err = fmt.Errorf("create session pool: %w", err)
		s.TransitionToFailed(err)
		return err
	}

	addr := s.cfg.Port.HostPort(s.cfg.Address)
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		pool.Release()
		err = fmt.Errorf("failed to listen on %s: %w", addr, err)
		s.TransitionToFailed(err)
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.addr = listener.Addr().String()
	s.pool = pool
	s.mu.Unlock()

	s.Go(s.acceptLoop)
	s.Go(s.janitor)

	s.TransitionToRunning()
	s.logger.Info("coordinator listening", "address", s.addr, "policy", s.engine.Policy(),
		"wait_timeout", s.cfg.WaitTimeout, "max_sessions", s.cfg.MaxSessions)
	return nil
}

// Stop closes the listener, aborts every open barrier so that waiting
// callers receive "aborted", closes remaining connections and waits for
// sessions to exit. Safe to call multiple times.
func (s *Server) Stop() error {
	if !s.TransitionToStopping() {
		return nil
	}

	s.mu.Lock()
	listener, pool := s.listener, s.pool
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	s.engine.Close()

	// Sessions still reading a request have nothing to report.
	for _, t := range s.conns.Items() {
		if !t.waiting.Load() {
			_ = t.conn.Close()
		}
	}

	var stopErr error
	if pool != nil {
		if err := pool.ReleaseTimeout(s.cfg.ShutdownTimeout); err != nil {
			stopErr = fmt.Errorf("waiting for sessions: %w", err)
		}
	}
	for key, t := range s.conns.Items() {
		_ = t.conn.Close()
		s.conns.Remove(key)
	}

	s.WaitForShutdown()
	s.TransitionToStopped()
	s.logger.Info("coordinator stopped")
	return stopErr
}

// Address returns the bound "host:port", or "" before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	_, portStr, err := net.SplitHostPort(s.Address())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// Sessions returns the number of live connections.
func (s *Server) Sessions() int { return s.conns.Count() }

// Engine returns the engine the server feeds.
func (s *Server) Engine() *rendezvous.Engine { return s.engine }

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			s.TransitionToFailed(fmt.Errorf("accept: %w", err))
			return
		}
		s.metrics.connections.Inc()
		s.dispatch(ctx, conn)
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn) {
	key := strconv.FormatUint(s.seq.Add(1), 10)
	t := &tracked{conn: conn}
	s.conns.Set(key, t)

	err := s.pool.Submit(func() {
		defer s.conns.Remove(key)
		s.metrics.active.Inc()
		defer s.metrics.active.Dec()
		newSession(s, t).serve(ctx)
	})
	if err == nil {
		return
	}

	remote := conn.RemoteAddr().String()
	if !errors.Is(err, ants.ErrPoolOverload) {
		s.conns.Remove(key)
		s.logger.Error("cannot schedule session", "remote", remote, "error", err)
		_ = conn.Close()
		return
	}
	s.logger.Warn("session pool exhausted", "remote", remote, "max_sessions", s.cfg.MaxSessions)
	s.Go(func(context.Context) {
		defer s.conns.Remove(key)
		s.refuse(conn, remote)
	})
}

// refuse answers busy, then consumes the unread request until the caller
// hangs up. Closing with unread input would reset the connection and the
// caller could lose the reply.
func (s *Server) refuse(conn net.Conn, remote string) {
	defer func() { _ = conn.Close() }()
	s.reply(conn, remote, protocol.StatusBusy)
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, protocol.MaxRequestSize))
}

// janitor prunes idle registry entries until the server stops.
func (s *Server) janitor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.PruneInterval):
			if pruned := s.engine.Prune(); len(pruned) > 0 {
				s.logger.Debug("janitor pruned entities", "count", len(pruned))
			}
		}
	}
}

// seed pins the configured dependency map.
func (s *Server) seed() error {
	if len(s.cfg.Seed) == 0 {
		return nil
	}
	return s.Reseed(s.cfg.Seed)
}

// Reseed pins m into the registry and warns about one-sided edges. Entries
// are merged; nothing already known is removed.
func (s *Server) Reseed(m map[string][]string) error {
	for _, e := range depgraph.FromMap(m).Asymmetric() {
		s.logger.Warn("one-sided dependency", "edge", e.String())
	}
	seed := make(map[rendezvous.EntityID][]rendezvous.EntityID, len(m))
	for id, deps := range m {
		list := make([]rendezvous.EntityID, len(deps))
		for i, d := range deps {
			list[i] = rendezvous.EntityID(d)
		}
		seed[rendezvous.EntityID(id)] = list
	}
	if err := s.engine.Seed(seed); err != nil {
		return fmt.Errorf("seed dependencies: %w", err)
	}
	s.logger.Info("dependencies seeded", "entities", len(seed))
	return nil
}

// reply writes a status token with a short deadline so a stalled peer
// cannot hold the goroutine.
func (s *Server) reply(conn net.Conn, remote string, st protocol.Status) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
	if err := protocol.WriteStatus(conn, st); err != nil {
		s.logger.Debug("write status failed", "remote", remote, "status", st, "error", err)
		return
	}
	s.metrics.responded(st)
}
