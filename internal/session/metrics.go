// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import "github.com/prometheus/client_golang/prometheus"

// Login outcomes.
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Session destruction reasons.
const (
	reasonExpired  = "expired"
	reasonEvicted  = "evicted"
	reasonLogout   = "logout"
	reasonShutdown = "shutdown"
)

// LoginAttempts counts logins by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gamesession_login_attempts_total",
		Help: "Total number of login attempts by outcome",
	},
	[]string{"outcome"},
)

// SessionsDestroyed counts removed sessions by reason.
// Use RegisterMetrics to register this with a Prometheus registry.
var SessionsDestroyed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gamesession_sessions_destroyed_total",
		Help: "Total number of destroyed sessions by reason",
	},
	[]string{"reason"},
)

// RegisterMetrics registers session metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(SessionsDestroyed)
}

func recordLogin(outcome string) {
	LoginAttempts.WithLabelValues(outcome).Inc()
}

func recordDestroyed(reason string) {
	SessionsDestroyed.WithLabelValues(reason).Inc()
}
