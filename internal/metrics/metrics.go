// Package metrics exposes Prometheus collectors for the mirror service.
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

// Run outcomes used as the status label on mirror_runs_total.
const (
	RunSucceeded             = "succeeded"
	RunCrawlFailed           = "crawl_failed"
	RunDependencyUnavailable = "dependency_unavailable"
	RunErrored               = "error"
)

var (
	mirrorTriggersTotal        *prometheus.CounterVec
	mirrorRunsTotal            *prometheus.CounterVec
	mirrorRunDurationSeconds   prometheus.Histogram
	mirrorCrawlsTotal          *prometheus.CounterVec
	mirrorFilesPublishedTotal  prometheus.Counter
	mirrorPublishFailuresTotal prometheus.Counter
	mirrorArtifactsExpired     prometheus.Counter
	mirrorLockContentionTotal  prometheus.Counter
	mirrorRunInProgress        prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		mirrorTriggersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_triggers_total",
				Help: "Total number of mirror triggers received, labeled by kind.",
			},
			[]string{"kind"},
		)

		mirrorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_runs_total",
				Help: "Total number of mirror runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		mirrorRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mirror_run_duration_seconds",
				Help:    "Histogram of full mirror run durations.",
				Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
		)

		mirrorCrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_crawls_total",
				Help: "Total number of crawler invocations, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		mirrorFilesPublishedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_files_published_total",
				Help: "Total number of files moved into published mirrors.",
			},
		)

		mirrorPublishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_publish_failures_total",
				Help: "Total number of files skipped because their transfer failed.",
			},
		)

		mirrorArtifactsExpired = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_artifacts_expired_total",
				Help: "Total number of mirrors removed by retention.",
			},
		)

		mirrorLockContentionTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_lock_contention_total",
				Help: "Total number of run attempts postponed because another run held the lock.",
			},
		)

		mirrorRunInProgress = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_run_in_progress",
				Help: "1 while this process is executing a mirror run.",
			},
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

// ObserveTrigger counts a trigger of the given kind.
func ObserveTrigger(kind string) {
	Init()
	mirrorTriggersTotal.WithLabelValues(kind).Inc()
}

// ObserveRun records a finished run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	mirrorRunsTotal.WithLabelValues(status).Inc()
	mirrorRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveCrawl counts one crawler invocation for the URL's host.
func ObserveCrawl(rawURL string, succeeded bool) {
	Init()
	outcome := "ok"
	if !succeeded {
		outcome = "no_output"
	}
	mirrorCrawlsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObservePublish records the files moved and skipped by one publish.
func ObservePublish(files, failures int) {
	Init()
	mirrorFilesPublishedTotal.Add(float64(files))
	mirrorPublishFailuresTotal.Add(float64(failures))
}

// ObserveExpired counts mirrors removed by retention.
func ObserveExpired(n int) {
	Init()
	mirrorArtifactsExpired.Add(float64(n))
}

// ObserveLockContention counts a postponed run attempt.
func ObserveLockContention() {
	Init()
	mirrorLockContentionTotal.Inc()
}

// SetRunInProgress flips the in-progress gauge.
func SetRunInProgress(running bool) {
	Init()
	if running {
		mirrorRunInProgress.Set(1)
		return
	}
	mirrorRunInProgress.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
