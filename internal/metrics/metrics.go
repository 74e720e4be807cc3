package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one run on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	APIRequestsTotal *prometheus.CounterVec
	APIDuration      prometheus.Histogram
	APIRetriesTotal  *prometheus.CounterVec
	PostsFetched     prometheus.Counter
	PostsDropped     prometheus.Counter
	PostsWritten     prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "happytweet_api_requests_total",
				Help: "Total number of search API requests by response status",
			},
			[]string{"status"},
		),
		APIDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "happytweet_api_request_duration_seconds",
				Help:    "Duration of search API requests in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		APIRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "happytweet_api_retries_total",
				Help: "Total number of retried search API requests by reason",
			},
			[]string{"reason"},
		),
		PostsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "happytweet_posts_fetched_total",
			Help: "Posts returned by the search API",
		}),
		PostsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "happytweet_posts_dropped_total",
			Help: "Posts discarded by the sentiment filter",
		}),
		PostsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "happytweet_posts_written_total",
			Help: "New posts added to the output document",
		}),
	}
}

// Registry exposes the underlying registry, e.g. for a push or an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one API round trip. status 0 means a transport error.
func (m *Metrics) ObserveRequest(status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.APIRequestsTotal.WithLabelValues(label).Inc()
	m.APIDuration.Observe(d.Seconds())
}

// RecordRetry counts a retry, reason is "rate_limit" or "network".
func (m *Metrics) RecordRetry(reason string) {
	if m == nil {
		return
	}
	m.APIRetriesTotal.WithLabelValues(reason).Inc()
}

// AddFetched counts posts received from the API.
func (m *Metrics) AddFetched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PostsFetched.Add(float64(n))
}

// AddDropped counts posts removed by filtering.
func (m *Metrics) AddDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PostsDropped.Add(float64(n))
}

// AddWritten counts posts newly persisted.
func (m *Metrics) AddWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PostsWritten.Add(float64(n))
}

// WriteTextfile exports the registry in the text exposition format, suitable
// for the node exporter's textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
