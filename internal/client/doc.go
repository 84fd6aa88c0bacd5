// SPDX-License-Identifier: MPL-2.0

// Package client sends phase and add-dependencies requests to a coordinator
// and maps the status token it answers with to an error.
package client
