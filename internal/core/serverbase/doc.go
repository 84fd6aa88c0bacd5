// SPDX-License-Identifier: MPL-2.0

// Package serverbase provides the lifecycle state machine shared by the
// coordinator listener and the admin HTTP server.
//
// A Base tracks the server state atomically, owns the lifecycle context that
// is cancelled on Stop, tracks background goroutines and reports async
// failures through an error channel. Instances are single-use.
package serverbase
