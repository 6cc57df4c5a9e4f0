package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Claims counts claim attempts by result (won, conflict, not_found, error)
	Claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_claims_total", Help: "Order claim attempts by result."},
		[]string{"result"},
	)
	// Completions counts completion attempts by result
	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_completions_total", Help: "Order completion attempts by result."},
		[]string{"result"},
	)
	// RouteFetches counts route provider calls by provider and result
	RouteFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_route_fetch_total", Help: "Route provider calls by provider and result."},
		[]string{"provider", "result"},
	)
	RouteFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "orderflow_route_fetch_seconds", Help: "Route provider latency in seconds.", Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10}},
		[]string{"provider"},
	)
	// PlaybackEvents counts events emitted by route playback by type and result
	PlaybackEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orderflow_playback_events_total", Help: "Playback events by type and publish result."},
		[]string{"type", "result"},
	)
	PlaybacksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "orderflow_playbacks_active", Help: "Route playbacks currently running."},
	)
)

// RegisterDefault registers all collectors on Registry. Safe to call repeatedly.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(Claims, Completions)
		Registry.MustRegister(RouteFetches, RouteFetchDuration)
		Registry.MustRegister(PlaybackEvents, PlaybacksActive)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
