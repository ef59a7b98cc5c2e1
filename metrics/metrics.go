// Package metrics exposes Prometheus metrics for the key exchange on a
// dedicated listener, kept separate from the peer protocol endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoundsTotal counts completed exchange rounds by relationship, role and
	// result (committed, aborted, expired).
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qupskd",
		Name:      "exchange_rounds_total",
		Help:      "Exchange rounds by relationship, role and result.",
	}, []string{"relationship", "role", "result"})

	// MissedRotationsTotal counts scheduler firings skipped because a round
	// was already in flight.
	MissedRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qupskd",
		Name:      "missed_rotations_total",
		Help:      "Scheduled rotations skipped due to an in-flight round.",
	}, []string{"relationship"})

	// KeySourceErrorsTotal counts failed key source calls by kind
	// (exhausted, not_found, unavailable).
	KeySourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qupskd",
		Name:      "key_source_errors_total",
		Help:      "Key source failures by relationship and kind.",
	}, []string{"relationship", "kind"})

	// RoundDuration observes wall time of completed initiator rounds.
	RoundDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qupskd",
		Name:      "exchange_round_duration_seconds",
		Help:      "Duration of completed initiator rounds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"relationship"})

	// StaleSecretsTotal counts stale-secret fallbacks where a random secret
	// replaced an aged-out one.
	StaleSecretsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qupskd",
		Name:      "stale_secret_fallbacks_total",
		Help:      "Random-secret fallbacks after the max secret age elapsed.",
	}, []string{"relationship"})
)

// MetricsServer serves the Prometheus registry over HTTP.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on listenAddr.
func New(listenAddr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving the metrics endpoint.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
