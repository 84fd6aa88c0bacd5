// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

const (
	// DefaultConnectTimeout bounds dial retries.
	DefaultConnectTimeout = 10 * time.Second

	initialRetryInterval = 50 * time.Millisecond
	maxRetryInterval     = time.Second
)

type (
	// Config locates the coordinator.
	Config struct {
		Address        string
		Port           types.ListenPort
		ConnectTimeout time.Duration
	}

	// Client talks to one coordinator. Each request uses its own connection.
	Client struct {
		cfg    Config
		logger *log.Logger
	}

	// Option configures a Client.
	Option func(*Client)
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("client: empty address")
	}
	if cfg.Port == 0 {
		return nil, errors.New("client: port must be set")
	}
	if err := cfg.Port.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	c := &Client{cfg: cfg, logger: log.NewWithOptions(io.Discard, log.Options{})}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Target returns the "host:port" the client dials.
func (c *Client) Target() string { return c.cfg.Port.HostPort(c.cfg.Address) }

// Arrive reports id at the action barrier and blocks until the coordinator
// answers. deps may be empty to use what the coordinator already knows.
func (c *Client) Arrive(ctx context.Context, id, action string, deps []string, imagesDir string, stream bool) error {
	req, err := protocol.NewPhaseRequest(id, action, deps, imagesDir, stream)
	if err != nil {
		return err
	}
	return c.Send(ctx, req)
}

// SeedDependencies sends an add-dependencies request.
func (c *Client) SeedDependencies(ctx context.Context, seed map[string][]string) error {
	req, err := protocol.NewSeedRequest(seed)
	if err != nil {
		return err
	}
	return c.Send(ctx, req)
}

// Send writes req and waits for the status token. It returns nil on ACK
// and a *StatusError for any other token.
func (c *Client) Send(ctx context.Context, req protocol.Request) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read when ctx ends; the server keeps the connection open
	// until the group is released.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c.logger.Info("sending request", "id", req.ID, "action", req.Action, "target", c.Target())
	if err := protocol.Encode(conn, req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	st, err := protocol.ReadStatus(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("waiting for coordinator: %w", ctxErr)
		}
		return err
	}
	c.logger.Info("coordinator responded", "id", req.ID, "action", req.Action, "status", st)
	if st != protocol.StatusACK {
		return &StatusError{Status: st}
	}
	return nil
}

// dial connects with exponential backoff until ConnectTimeout elapses.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryInterval
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = c.cfg.ConnectTimeout

	target := c.Target()
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	var conn net.Conn
	op := func() error {
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", target)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("coordinator not reachable, retrying", "target", target, "in", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrUnreachable, target, err)
	}
	return conn, nil
}
