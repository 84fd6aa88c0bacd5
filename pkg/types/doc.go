// SPDX-License-Identifier: MPL-2.0

// Package types holds small validated primitives shared by the coordinator
// server, client and CLI.
package types
