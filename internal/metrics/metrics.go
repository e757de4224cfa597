// Package metrics exposes Prometheus instrumentation for the realtime
// channels, the toast queue, the optimistic cache and the backend client.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Realtime channel metrics
	ChannelState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lazyops_channel_state",
			Help: "Channel connection state (0=idle, 1=connecting, 2=open, 3=closed)",
		},
		[]string{"channel"},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_channel_reconnect_attempts_total",
			Help: "Reconnection attempts scheduled per channel",
		},
		[]string{"channel"},
	)

	ChannelDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_channel_degraded_total",
			Help: "Times a channel exhausted its reconnect budget",
		},
		[]string{"channel"},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_frames_received_total",
			Help: "Inbound frames by classification",
		},
		[]string{"channel", "class"}, // "event", "heartbeat", "malformed"
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_events_dispatched_total",
			Help: "Events dispatched by category and kind",
		},
		[]string{"category", "kind"},
	)

	HandlerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_handler_panics_total",
			Help: "Event callbacks that panicked during dispatch",
		},
		[]string{"stage"},
	)

	PolledEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_polled_events_total",
			Help: "Events delivered by the fallback poller",
		},
		[]string{"channel"},
	)

	// Toasts
	ToastsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_toasts_pushed_total",
			Help: "Toasts pushed by kind",
		},
		[]string{"kind"},
	)

	ToastsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lazyops_toasts_evicted_total",
			Help: "Toasts evicted because the live limit was reached",
		},
	)

	// Optimistic cache
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_mutations_total",
			Help: "Optimistic mutations by outcome",
		},
		[]string{"outcome"}, // "confirmed", "rolled_back", "superseded"
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lazyops_cache_invalidations_total",
			Help: "Collections marked stale",
		},
		[]string{"collection"},
	)

	// Backend HTTP client
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lazyops_api_request_duration_seconds",
			Help:    "Backend API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lazyops_circuit_breaker_state",
			Help: "Backend circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// StateValue maps a channel state name to the gauge value
func StateValue(state string) float64 {
	switch state {
	case "connecting":
		return 1
	case "open":
		return 2
	case "closed":
		return 3
	default:
		return 0
	}
}

// ObserveAPIRequest records one backend request
func ObserveAPIRequest(method, endpoint, status string, started time.Time) {
	APIRequestDuration.WithLabelValues(method, endpoint, status).Observe(time.Since(started).Seconds())
}

// Serve exposes /metrics on addr until the returned server is shut down
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn().Err(err).Str("addr", addr).Msg("Metrics listener stopped")
		}
	}()
	return srv
}
