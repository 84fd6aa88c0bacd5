// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base is embedded by concrete servers to get a lifecycle state machine.
//
//	Created -> Starting -> Running -> Stopping -> Stopped
//	              \           \
//	               +-> Failed  +-> Failed
type Base struct {
	name  string
	state atomic.Int32
	hook  func(from, to State)

	mu      sync.Mutex
	lastErr error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedCh chan struct{}
	errCh     chan error
}

// NewBase creates a Base in the Created state.
func NewBase(opts ...Option) *Base {
	b := &Base{
		name:      "server",
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the configured server name.
func (b *Base) Name() string { return b.name }

// State returns the current state.
func (b *Base) State() State { return State(b.state.Load()) }

// IsRunning reports whether the server is in the Running state.
func (b *Base) IsRunning() bool { return b.State() == StateRunning }

// Err returns the channel on which async serve-loop failures are reported.
func (b *Base) Err() <-chan error { return b.errCh }

// LastError returns the error that moved the server to Failed, or nil.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Context returns the lifecycle context; it is cancelled when the server
// stops or fails. It is nil before TransitionToStarting.
func (b *Base) Context() context.Context { return b.ctx }

// StartedChannel is closed once the server reaches Running.
func (b *Base) StartedChannel() <-chan struct{} { return b.startedCh }

// TransitionToStarting moves Created -> Starting and creates the lifecycle
// context. A context that is already cancelled fails the server instead.
func (b *Base) TransitionToStarting(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%s: context cancelled before start: %w", b.name, err)
		b.TransitionToFailed(err)
		return err
	}
	if !b.swap(StateCreated, StateStarting) {
		return fmt.Errorf("%s: cannot start in state %s", b.name, b.State())
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// TransitionToRunning moves Starting -> Running and closes StartedChannel.
func (b *Base) TransitionToRunning() {
	if b.swap(StateStarting, StateRunning) {
		close(b.startedCh)
	}
}

// TransitionToFailed records err, moves to Failed, cancels the lifecycle
// context and reports err on the error channel without blocking.
func (b *Base) TransitionToFailed(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	from := State(b.state.Swap(int32(StateFailed)))
	if b.cancel != nil {
		b.cancel()
	}
	b.notify(from, StateFailed)
	b.SendError(err)
}

// TransitionToStopping moves a Starting or Running server to Stopping and
// cancels the lifecycle context. It returns false when there is nothing to
// stop; a never-started server goes straight to Stopped.
func (b *Base) TransitionToStopping() bool {
	for {
		current := b.State()
		switch current {
		case StateCreated:
			if b.swap(StateCreated, StateStopped) {
				return false
			}
		case StateStarting, StateRunning:
			if b.swap(current, StateStopping) {
				if b.cancel != nil {
					b.cancel()
				}
				return true
			}
		default:
			return false
		}
	}
}

// TransitionToStopped marks the server as stopped once its goroutines exited.
func (b *Base) TransitionToStopped() {
	from := State(b.state.Swap(int32(StateStopped)))
	b.notify(from, StateStopped)
}

// WaitForReady blocks until the server is Running or ctx is done.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s to become ready: %w", b.name, ctx.Err())
	}
}

// Go runs fn on a tracked goroutine with the lifecycle context.
// WaitForShutdown waits for every goroutine started this way.
func (b *Base) Go(fn func(ctx context.Context)) {
	ctx := b.ctx
	b.wg.Go(func() { fn(ctx) })
}

// WaitForShutdown blocks until all goroutines started with Go returned.
func (b *Base) WaitForShutdown() { b.wg.Wait() }

// SendError reports err on the error channel, dropping it when full.
func (b *Base) SendError(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}

func (b *Base) swap(from, to State) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	b.notify(from, to)
	return true
}

func (b *Base) notify(from, to State) {
	if b.hook != nil && from != to {
		b.hook(from, to)
	}
}
