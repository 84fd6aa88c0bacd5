// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
)

// session serves exactly one request on one connection.
type session struct {
	srv    *Server
	t      *tracked
	remote string
}

func newSession(srv *Server, t *tracked) *session {
	return &session{srv: srv, t: t, remote: t.conn.RemoteAddr().String()}
}

func (ss *session) serve(ctx context.Context) {
	conn := ss.t.conn
	defer func() { _ = conn.Close() }()
	logger := ss.srv.logger.With("remote", ss.remote)

	_ = conn.SetReadDeadline(time.Now().Add(ss.srv.cfg.ReadTimeout))
	msg, err := protocol.Decode(conn)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("rejecting request", "error", err)
		ss.srv.reply(conn, ss.remote, protocol.StatusMalformed)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch msg.Kind {
	case protocol.KindSeed:
		if err := ss.srv.engine.Seed(msg.Seed); err != nil {
			logger.Warn("rejecting seed", "error", err)
			ss.srv.reply(conn, ss.remote, protocol.StatusMalformed)
			return
		}
		logger.Info("dependencies added", "entities", len(msg.Seed))
		ss.srv.reply(conn, ss.remote, protocol.StatusACK)
	case protocol.KindPhase:
		ss.arrive(msg, logger)
	}
}

func (ss *session) arrive(msg protocol.Message, logger *log.Logger) {
	conn := ss.t.conn
	arrival := msg.Arrival
	arrival.Address = ss.remote

	ticket, err := ss.srv.engine.Arrive(arrival)
	if err != nil {
		if errors.Is(err, rendezvous.ErrEngineClosed) {
			ss.srv.reply(conn, ss.remote, protocol.StatusAborted)
			return
		}
		logger.Warn("arrival rejected", "id", arrival.ID, "phase", arrival.Phase, "error", err)
		ss.srv.reply(conn, ss.remote, protocol.StatusMalformed)
		return
	}
	ss.t.waiting.Store(true)
	logger.Debug("waiting for group", "id", arrival.ID, "phase", arrival.Phase, "stream", msg.Stream)

	select {
	case <-ticket.Done():
	case <-ss.srv.clock.After(ss.srv.cfg.WaitTimeout):
		ss.srv.engine.Expire(ticket)
	case <-ss.peerGone():
		if ss.srv.engine.Depart(ticket) {
			ss.srv.engine.Forget(arrival.ID)
			logger.Info("caller disconnected while waiting", "id", arrival.ID, "phase", arrival.Phase)
			return
		}
	}

	outcome := ticket.Outcome()
	status := protocol.StatusFor(outcome)
	if outcome != rendezvous.Released {
		logger.Warn("phase not synchronized", "id", arrival.ID, "phase", arrival.Phase, "outcome", outcome)
	}
	ss.srv.reply(conn, ss.remote, status)
}

// peerGone is closed when the caller closes its end. Callers send nothing
// after the request, so any completed read means the connection is done.
func (ss *session) peerGone() <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var buf [1]byte
		for {
			if _, err := ss.t.conn.Read(buf[:]); err != nil {
				return
			}
		}
	}()
	return gone
}
