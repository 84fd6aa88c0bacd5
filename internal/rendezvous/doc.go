// SPDX-License-Identifier: MPL-2.0

// Package rendezvous implements the coordination core: the dependency
// registry, the per-phase ledger of open barriers and the engine that admits
// arrivals and releases complete groups.
//
// An entity arriving at a phase blocks until every member of its dependency
// closure has arrived at the same phase. Closures are discovered
// incrementally: the expected set of a barrier is the union of each arrived
// member and its declared dependencies, and barriers of the same phase whose
// expected sets overlap are merged. Completion is decided, every waiter is
// released and the barrier is removed inside one critical section, so no
// arrival can join a barrier that has already been released.
//
// All state lives in an Engine; Registry and Ledger are not safe for
// concurrent use on their own.
package rendezvous
