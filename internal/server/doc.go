// SPDX-License-Identifier: MPL-2.0

// Package server accepts coordinator connections over TCP and runs one
// session per connection on a bounded worker pool.
//
// A session reads a single JSON request, hands it to the rendezvous engine
// and writes one status token once the caller's group is released, the
// wait times out or the server shuts down. A caller that disconnects while
// waiting is retracted from its barrier and, when nothing else references
// it, forgotten by the registry.
package server
