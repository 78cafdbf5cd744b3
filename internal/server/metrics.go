package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/claim"
)

var (
	claimOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handle_claims_total",
			Help: "Total number of claim attempts, by outcome.",
		},
		[]string{"outcome"}, // success, invalid, invalid_signature, handle_taken, rate_limited, internal_error
	)

	lookupCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handle_lookups_total",
			Help: "Total number of lookups, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	storeBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "handle_store_breaker_state",
			Help: "Store circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)
)

// metricsHandler exposes Prometheus metrics through the main HTTP server.
func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// NewMetricsHandler creates a standalone HTTP handler for Prometheus metrics,
// served on its own port.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ObserveBreakerState records a store breaker transition. It matches
// storage.BreakerStateFunc.
func ObserveBreakerState(name string, _, to gobreaker.State) {
	storeBreakerState.WithLabelValues(name).Set(float64(to))
}

func incrementClaimOutcome(o claim.Outcome) {
	claimOutcomeCount.WithLabelValues(o.String()).Inc()
}

func incrementLookup(kind, result string) {
	lookupCount.WithLabelValues(kind, result).Inc()
}
