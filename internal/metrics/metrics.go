package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analytics service metrics for production monitoring
var (
	// Result cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"category"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_cache_misses_total",
			Help: "Total number of result cache misses (absent or expired)",
		},
		[]string{"category"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_cache_evictions_total",
			Help: "Total number of entries evicted because the cache was full",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsboard_analytics_cache_entries",
			Help: "Current number of entries held by the result cache",
		},
	)

	CacheStorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_cache_storage_errors_total",
			Help: "Total number of swallowed cache persistence failures",
		},
		[]string{"op"}, // op: load/save/backup
	)

	// Forecast metrics
	ForecastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_forecasts_total",
			Help: "Total number of forecast requests",
		},
		[]string{"model", "status"}, // status: ok/insufficient_data/error
	)

	ForecastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsboard_analytics_forecast_duration_seconds",
			Help:    "Forecast generation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"model"},
	)

	ForecastFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_forecast_fallbacks_total",
			Help: "Total number of series that degraded to the flat-mean fallback",
		},
		[]string{"model"},
	)

	// Alert metrics
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_alerts_fired_total",
			Help: "Total number of threshold breaches recorded",
		},
		[]string{"severity"},
	)

	AlertDispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_alert_dispatch_failures_total",
			Help: "Total number of failed notification dispatches",
		},
		[]string{"channel"},
	)

	// Record store metrics
	RecordQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsboard_analytics_record_query_duration_seconds",
			Help:    "Record store page query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"backend"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsboard_analytics_websocket_connections",
			Help: "Current number of active alert stream connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsboard_analytics_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
