// SPDX-License-Identifier: MPL-2.0

// Package admin serves the coordinator's optional HTTP surface: Prometheus
// metrics, liveness and readiness probes, a JSON snapshot of open barriers
// and a WebSocket stream of engine events.
package admin
