// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the criu-coordinator command tree and the CRIU
// action-hook entry point.
package cmd
