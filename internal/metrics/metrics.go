// Package metrics exposes Prometheus collectors for the probe engine and its
// HTTP API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	probesInFlight             prometheus.Gauge
	robotsDecisionsTotal       *prometheus.CounterVec
	robotsFetchFailuresTotal   prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// multiple times.
func Init() {
	once.Do(func() {
		probesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shadowprobe_probes_in_flight",
			Help: "Number of site probes currently executing.",
		})

		robotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowprobe_robots_decisions_total",
				Help: "Robots policy decisions, labeled by outcome.",
			},
			[]string{"decision"},
		)

		robotsFetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shadowprobe_robots_fetch_failures_total",
			Help: "robots.txt fetches that failed and fell back to allow.",
		})

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shadowprobe_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowprobe_http_requests_total",
				Help: "API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shadowprobe_http_request_duration_seconds",
				Help:    "API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// SanitizeHost extracts a lowercase hostname from a URL, or "unknown".
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ProbeStarted increments the in-flight gauge.
func ProbeStarted() {
	Init()
	probesInFlight.Inc()
}

// ProbeFinished decrements the in-flight gauge.
func ProbeFinished() {
	Init()
	probesInFlight.Dec()
}

// ObserveRobotsDecision counts an allow/deny decision.
func ObserveRobotsDecision(allowed bool) {
	Init()
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	robotsDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveRobotsFetchFailure counts a fail-open robots fetch.
func ObserveRobotsFetchFailure() {
	Init()
	robotsFetchFailuresTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
