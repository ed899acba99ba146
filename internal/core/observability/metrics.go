// Package observability holds the Prometheus collectors shared by the service.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	lineQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "line_queries_total",
			Help: "Line queries by outcome (success, empty, failed, unsupported).",
		},
		[]string{"outcome"},
	)

	queryFeaturesReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "line_query_features_returned",
			Help:    "Number of features returned per successful line query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	noticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notices_shown_total",
			Help: "Notices shown to the user by title.",
		},
		[]string{"title"},
	)

	displayLayerUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "display_layer_updates_total",
			Help: "Display layer repopulations by layer id.",
		},
		[]string{"layer"},
	)

	commandToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "command_toggles_total",
			Help: "Command toggles by command and resulting state.",
		},
		[]string{"command", "state"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Result cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Cache backend operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events processed by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidated_cache_entries_total",
			Help: "Cache entries dropped by invalidation.",
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	queryEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_events_total",
			Help: "Query events handed to the publisher by result (queued, dropped, error).",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		lineQueriesTotal,
		queryFeaturesReturned,
		noticesTotal,
		displayLayerUpdates,
		commandToggles,
		cacheResults,
		cacheOpTotal,
		cacheOpDuration,
		invalidationsTotal,
		invalidatedEntries,
		kafkaConsumerErrors,
		queryEventsTotal,
	}
}

// Init registers every collector with reg; registering twice is a no-op
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncLineQuery(outcome string) {
	lineQueriesTotal.WithLabelValues(outcome).Inc()
}

func ObserveFeaturesReturned(n int) {
	queryFeaturesReturned.Observe(float64(n))
}

func IncNotice(title string) {
	noticesTotal.WithLabelValues(title).Inc()
}

func IncDisplayLayerUpdate(layer string) {
	displayLayerUpdates.WithLabelValues(layer).Inc()
}

func IncCommandToggle(command string, checked bool) {
	state := "off"
	if checked {
		state = "on"
	}
	commandToggles.WithLabelValues(command, state).Inc()
}

func IncCacheHit() {
	cacheResults.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheResults.WithLabelValues("miss").Inc()
}

func IncCacheError() {
	cacheResults.WithLabelValues("error").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	cacheOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveInvalidation(op string, entries int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationsTotal.WithLabelValues(op, result).Inc()
	if entries > 0 {
		invalidatedEntries.Add(float64(entries))
	}
}

// IncInvalidationReplay counts redelivered events that were already applied
func IncInvalidationReplay() {
	invalidationsTotal.WithLabelValues("unknown", "replay").Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func IncQueryEvent(result string) {
	queryEventsTotal.WithLabelValues(result).Inc()
}
