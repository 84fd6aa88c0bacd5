// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/checkpoint-restore/criu-coordinator/internal/core/serverbase"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
)

const metricsNamespace = "criu_coordinator"

var errCoordinatorDown = errors.New("coordinator is not running")

// Server is the admin HTTP listener.
// A Server instance is single-use: once stopped or failed, create a new instance.
type Server struct {
	*serverbase.Base

	cfg         Config
	engine      *rendezvous.Engine
	logger      *log.Logger
	registry    *prometheus.Registry
	hub         *Hub
	coordinator Coordinator
	upgrader    websocket.Upgrader
	handler     http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
}

// New creates an admin server for engine. The server is not started; call Start.
func New(cfg Config, engine *rendezvous.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("admin: nil engine")
	}
	if cfg.Address == "" {
		return nil, errors.New("admin: empty address")
	}
	s := &Server{
		Base:   serverbase.NewBase(serverbase.WithName("admin")),
		cfg:    cfg.withDefaults(),
		engine: engine,
		logger: log.NewWithOptions(io.Discard, log.Options{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.hub == nil {
		s.hub = NewHub(DefaultSubscriberBuffer)
	}

	if err := s.registerHubMetrics(); err != nil {
		return nil, err
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving every admin endpoint.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the event hub backing /events.
func (s *Server) Hub() *Hub { return s.hub }

// Start binds the listener and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	if err := s.TransitionToStarting(ctx); err != nil {
		return err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
		s.TransitionToFailed(err)
		return err
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.Context() },
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	s.Go(func(context.Context) {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server failed", "error", err)
			s.TransitionToFailed(fmt.Errorf("serve: %w", err))
		}
	})

	s.TransitionToRunning()
	s.logger.Info("admin listening", "address", s.addr)
	return nil
}

// Stop ends event streams and shuts the HTTP server down. Safe to call
// multiple times.
func (s *Server) Stop() error {
	if !s.TransitionToStopping() {
		return nil
	}
	s.hub.Close()

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	var stopErr error
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			stopErr = fmt.Errorf("admin shutdown: %w", err)
		}
	}

	s.WaitForShutdown()
	s.TransitionToStopped()
	return stopErr
}

// Address returns the bound "host:port", or "" before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL returns the base URL of the admin listener.
func (s *Server) URL() string { return "http://" + s.Address() }

func (s *Server) routes() http.Handler {
	health := healthcheck.NewMetricsHandler(s.registry, metricsNamespace)
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(s.cfg.MaxGoroutines))
	health.AddReadinessCheck("coordinator", s.coordinatorReady)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.Handle("GET /live", health)
	mux.Handle("GET /ready", health)
	mux.HandleFunc("GET /barriers", s.handleBarriers)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// coordinatorReady fails until the coordinator is running and accepting
// TCP connections.
func (s *Server) coordinatorReady() error {
	if s.coordinator == nil || !s.coordinator.IsRunning() {
		return errCoordinatorDown
	}
	return healthcheck.TCPDialCheck(s.coordinator.Address(), s.cfg.DialTimeout)()
}

func (s *Server) registerHubMetrics() error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "admin",
			Name:      "events_published_total",
			Help:      "Engine events received by the event hub.",
		}, func() float64 { return float64(s.hub.Published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "admin",
			Name:      "events_dropped_total",
			Help:      "Event deliveries skipped because a subscriber fell behind.",
		}, func() float64 { return float64(s.hub.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "admin",
			Name:      "event_subscribers",
			Help:      "Connected /events subscribers.",
		}, func() float64 { return float64(s.hub.Subscribers()) }),
	}
	for _, c := range collectors {
		if err := s.registry.Register(c); err != nil {
			return fmt.Errorf("register admin metrics: %w", err)
		}
	}
	return nil
}

func (s *Server) handleBarriers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.engine.Snapshot()); err != nil {
		s.logger.Debug("write snapshot failed", "error", err)
	}
}

// handleEvents upgrades to a WebSocket and writes one JSON text message per
// engine event until the client goes away or the server stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.hub.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	s.logger.Debug("event subscriber connected", "remote", r.RemoteAddr)

	// Reading is required to process control frames; it fails once the
	// client closes.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				s.closeStream(conn, "server stopping")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-gone:
			s.logger.Debug("event subscriber left", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			s.closeStream(conn, "server stopping")
			return
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
