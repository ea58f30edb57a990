// Package metrics exposes Prometheus collectors for the headline tracker.
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
	trackerRunsTotal            *prometheus.CounterVec
	trackerRunDurationSeconds   prometheus.Histogram
	trackerProfilesTotal        *prometheus.CounterVec
	trackerHookFailuresTotal    *prometheus.CounterVec
	fetchRequestsTotal          *prometheus.CounterVec
	fetchDurationSeconds        *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	fetchRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		trackerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_runs_total",
				Help: "Total number of tracker runs, labeled by result.",
			},
			[]string{"result"},
		)

		trackerRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracker_run_duration_seconds",
				Help:    "Histogram of tracker run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
		)

		trackerProfilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_profiles_total",
				Help: "Total number of profiles checked, labeled by outcome and change type.",
			},
			[]string{"outcome", "change_type"},
		)

		trackerHookFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_hook_failures_total",
				Help: "Total number of failed archive or publish hooks.",
			},
			[]string{"hook"},
		)

		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_requests_total",
				Help: "Total number of profile fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_duration_seconds",
				Help:    "Histogram of profile fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		fetchRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a finished run.
func ObserveRun(result string, duration time.Duration) {
	Init()
	trackerRunsTotal.WithLabelValues(result).Inc()
	trackerRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveProfile increments the per-profile outcome counter.
func ObserveProfile(outcome, changeType string) {
	Init()
	trackerProfilesTotal.WithLabelValues(outcome, changeType).Inc()
}

// ObserveHookFailure counts a failed archive or publish side effect.
func ObserveHookFailure(hook string) {
	Init()
	trackerHookFailuresTotal.WithLabelValues(hook).Inc()
}

// ObserveFetch records one profile fetch.
func ObserveFetch(site, outcome string, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchRequestsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(sanitizedSite).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	fetchRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
