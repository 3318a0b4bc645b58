// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package peer

import "github.com/prometheus/client_golang/prometheus"

// Disconnect reasons.
const (
	dropReplaced   = "replaced"
	dropClosed     = "closed"
	dropSendFailed = "send_failed"
	dropShutdown   = "shutdown"
)

// EventsQueued counts lifecycle events queued for delivery, per peer.
// Use RegisterMetrics to register this with a Prometheus registry.
var EventsQueued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gamesession_peer_events_queued_total",
		Help: "Total number of lifecycle events queued to peers by event kind",
	},
	[]string{"event"},
)

// Disconnects counts removed peer connections by reason.
// Use RegisterMetrics to register this with a Prometheus registry.
var Disconnects = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gamesession_peer_disconnects_total",
		Help: "Total number of peer connections removed by reason",
	},
	[]string{"reason"},
)

// RegisterMetrics registers peer metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventsQueued)
	reg.MustRegister(Disconnects)
}
