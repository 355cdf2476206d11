package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osvaldoandrade/tokengate/pkg/jwt"
)

const namespace = "tokengate"

var (
	TokenDecodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_decode_total",
			Help:      "Total number of token decodes, labeled by token kind and outcome.",
		},
		[]string{"token", "outcome"},
	)

	TokenDecodeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_decode_duration_seconds",
			Help:      "Time spent decoding and validating a single token (seconds).",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"token"},
	)

	KeyFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_fetch_total",
			Help:      "Total number of key set fetches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	KeyFetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "key_fetch_duration_seconds",
			Help:      "Latency of key set fetches (seconds).",
			Buckets:   prometheus.DefBuckets,
		},
	)

	AuthzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Total number of authorization requests, labeled by decision (allow, deny, error).",
		},
		[]string{"decision"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)

	ConfigReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of token service rebuilds triggered by configuration changes.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		TokenDecodeTotal,
		TokenDecodeDurationSeconds,
		KeyFetchTotal,
		KeyFetchDurationSeconds,
		AuthzDecisionsTotal,
		RateLimitHitsTotal,
		ConfigReloadsTotal,
	)
}

// ObserveKeyFetch records one key set fetch. It matches keys.FetchObserver.
func ObserveKeyFetch(outcome string, d time.Duration) {
	KeyFetchTotal.WithLabelValues(outcome).Inc()
	KeyFetchDurationSeconds.Observe(d.Seconds())
}

// ObserveTokenDecode records one token decode. It matches jwt.DecodeObserver.
func ObserveTokenDecode(kind jwt.TokenKind, outcome string, d time.Duration) {
	TokenDecodeTotal.WithLabelValues(string(kind), outcome).Inc()
	TokenDecodeDurationSeconds.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveDecision records one authorization outcome. It matches
// authz.DecisionObserver.
func ObserveDecision(outcome string) {
	AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
}
