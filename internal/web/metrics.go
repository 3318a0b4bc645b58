// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Requests counts HTTP requests by route, method and status code.
// Use RegisterMetrics to register this with a Prometheus registry.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gamesession_http_requests_total",
		Help: "Total number of HTTP requests by route, method and status code",
	},
	[]string{"route", "method", "code"},
)

// RequestDuration observes HTTP request latency by route and method.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gamesession_http_request_duration_seconds",
		Help:    "HTTP request latency by route and method",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "method"},
)

// RegisterMetrics registers web metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Requests)
	reg.MustRegister(RequestDuration)
}

// instrument counts and times requests to route.
func instrument(route string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		RequestDuration.MustCurryWith(prometheus.Labels{"route": route}), count(route, h))
}

// count only counts requests. Used for the gateway, whose requests last
// as long as the peer stays connected.
func count(route string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(
		Requests.MustCurryWith(prometheus.Labels{"route": route}), h)
}
