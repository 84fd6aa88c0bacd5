// SPDX-License-Identifier: MPL-2.0

package serverbase

// Option configures a Base.
type Option func(*Base)

// WithName sets the name used in lifecycle error messages.
func WithName(name string) Option {
	return func(b *Base) { b.name = name }
}

// WithErrorChannel sets the buffer size of the async error channel (default 1).
func WithErrorChannel(size int) Option {
	return func(b *Base) { b.errCh = make(chan error, size) }
}

// WithStateHook registers fn to be called after every successful state
// transition. It runs on the transitioning goroutine and must not block.
func WithStateHook(fn func(from, to State)) Option {
	return func(b *Base) { b.hook = fn }
}
