// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors for the coordinator CLI.
//
// ActionableError carries the failed operation, the resource involved and
// suggestions for fixing it. The issue catalog holds longer Markdown
// explanations, rendered with glamour, for the failures operators hit most:
// an unreachable coordinator, a synchronization timeout and configuration
// mistakes.
package issue
