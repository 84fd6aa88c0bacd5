// SPDX-License-Identifier: MPL-2.0

// Package testutil provides the Clock abstraction shared by the coordinator
// engine and its tests, plus helpers that fail tests on setup errors.
//
// Helpers cover environment variables (MustSetenv, MustUnsetenv), files
// (MustWriteFile, MustMkdirAll) and server teardown (MustStop, DeferStop).
package testutil
