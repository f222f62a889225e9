// Package metrics provides the Prometheus registry for the odds service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keiba_odds"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Snapshot store metrics
var (
	StoreWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_writes_total",
		Help:      "Total number of snapshot store writes",
	}, []string{"kind"})
	StoreLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_lookups_total",
		Help:      "Total number of snapshot store lookups by result",
	}, []string{"result"})
	StorePrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_pruned_entries_total",
		Help:      "Total number of cache entries removed by prune sweeps",
	})
	StoreEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_entries",
		Help:      "Number of indexed cache entries",
	})
)

// Source routing and reconstruction metrics
var (
	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_requests_total",
		Help:      "Odds requests by resolved data source and outcome",
	}, []string{"source", "outcome"})
	SourceFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fallbacks_total",
		Help:      "Auto-mode fallbacks from one source to the next",
	}, []string{"from", "to"})
	ReconstructionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconstructions_total",
		Help:      "Total number of synthetic snapshots reconstructed",
	})
	ReconstructionVolatility = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconstruction_volatility",
		Help:      "Volatility fraction applied to reconstructed snapshots",
		Buckets:   []float64{0.1, 0.12, 0.14, 0.16, 0.18, 0.2, 0.25, 0.3},
	})
)

// Feed metrics
var (
	FeedFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "feed_fetch_duration_seconds",
		Help:      "Latency of live feed fetches in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	FeedErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_errors_total",
		Help:      "Live feed failures by error code",
	}, []string{"code"})
	FeedCacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_cache_hit_ratio",
		Help:      "Live feed response cache hit ratio",
	})
	ParseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_errors_total",
		Help:      "Odds records skipped because they could not be parsed",
	}, []string{"record_type"})
	CircuitBreakerTripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_trips_total",
		Help:      "Total number of feed circuit breaker trips",
	})
)

// Subscription metrics
var (
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_active_subscriptions",
		Help:      "Number of open odds websocket subscriptions",
	})
	SubscriptionMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_messages_total",
		Help:      "Websocket messages sent by type",
	}, []string{"type"})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(StoreWritesTotal)
		registry.MustRegister(StoreLookupsTotal)
		registry.MustRegister(StorePrunedTotal)
		registry.MustRegister(StoreEntries)

		registry.MustRegister(SourceRequestsTotal)
		registry.MustRegister(SourceFallbacksTotal)
		registry.MustRegister(ReconstructionsTotal)
		registry.MustRegister(ReconstructionVolatility)

		registry.MustRegister(FeedFetchDuration)
		registry.MustRegister(FeedErrorsTotal)
		registry.MustRegister(FeedCacheHitRatio)
		registry.MustRegister(ParseErrorsTotal)
		registry.MustRegister(CircuitBreakerTripsTotal)

		registry.MustRegister(ActiveSubscriptions)
		registry.MustRegister(SubscriptionMessagesTotal)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordStoreWrite records a payload or race-list write.
func RecordStoreWrite(kind string) {
	StoreWritesTotal.WithLabelValues(kind).Inc()
}

// RecordStoreLookup records an index lookup as "hit" or "miss".
func RecordStoreLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	StoreLookupsTotal.WithLabelValues(result).Inc()
}

// RecordPrune records entries removed by a prune sweep.
func RecordPrune(removed int) {
	StorePrunedTotal.Add(float64(removed))
}

// UpdateStoreEntries sets the indexed entry gauge.
func UpdateStoreEntries(n int) {
	StoreEntries.Set(float64(n))
}

// RecordSourceRequest records a routed odds request.
func RecordSourceRequest(source, outcome string) {
	SourceRequestsTotal.WithLabelValues(source, outcome).Inc()
}

// RecordFallback records an auto-mode fallback step.
func RecordFallback(from, to string) {
	SourceFallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordReconstruction records a synthetic snapshot and its volatility.
func RecordReconstruction(volatility float64) {
	ReconstructionsTotal.Inc()
	ReconstructionVolatility.Observe(volatility)
}

// RecordFeedFetch records feed latency for an operation.
func RecordFeedFetch(operation string, durationSeconds float64) {
	FeedFetchDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordFeedError records a feed failure.
func RecordFeedError(code string) {
	FeedErrorsTotal.WithLabelValues(code).Inc()
}

// RecordParseError records a skipped record.
func RecordParseError(recordType string) {
	ParseErrorsTotal.WithLabelValues(recordType).Inc()
}

// RecordCircuitBreakerTrip records a circuit breaker trip event.
func RecordCircuitBreakerTrip() {
	CircuitBreakerTripsTotal.Inc()
}

// UpdateFeedCacheHitRatio sets the feed response cache hit ratio.
func UpdateFeedCacheHitRatio(ratio float64) {
	FeedCacheHitRatio.Set(ratio)
}

// SubscriptionOpened increments the active subscription gauge.
func SubscriptionOpened() {
	ActiveSubscriptions.Inc()
}

// SubscriptionClosed decrements the active subscription gauge.
func SubscriptionClosed() {
	ActiveSubscriptions.Dec()
}

// RecordSubscriptionMessage records a websocket message by type.
func RecordSubscriptionMessage(msgType string) {
	SubscriptionMessagesTotal.WithLabelValues(msgType).Inc()
}
