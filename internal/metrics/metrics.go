// Package metrics exposes Prometheus collectors for the screenshot service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	consentDismissalsTotal     *prometheus.CounterVec
	navigationDelaySeconds     prometheus.Histogram
	sweptRecordsTotal          prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snaply_jobs_total",
				Help: "Total number of jobs reaching a state, labeled by state.",
			},
			[]string{"state"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "snaply_active_jobs",
				Help: "Number of capture jobs currently running.",
			},
		)

		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snaply_captures_total",
				Help: "Total number of screenshot attempts, labeled by device and outcome.",
			},
			[]string{"device", "outcome"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snaply_capture_duration_seconds",
				Help:    "Histogram of full-page capture latencies, labeled by device.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"device"},
		)

		consentDismissalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snaply_consent_dismissals_total",
				Help: "Total number of consent popups dismissed, labeled by the layer that acted.",
			},
			[]string{"layer"},
		)

		navigationDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "snaply_navigation_delay_seconds",
				Help:    "Histogram of navigation pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		sweptRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "snaply_swept_records_total",
				Help: "Total number of stale job records removed.",
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given state.
func ObserveJob(state string) {
	Init()
	jobsTotal.WithLabelValues(state).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveCapture records one screenshot attempt.
func ObserveCapture(device string, ok bool, duration time.Duration) {
	Init()
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	capturesTotal.WithLabelValues(device, outcome).Inc()
	captureDurationSeconds.WithLabelValues(device).Observe(duration.Seconds())
}

// ObserveConsentDismissal counts a popup dismissed by layer.
func ObserveConsentDismissal(layer string) {
	Init()
	consentDismissalsTotal.WithLabelValues(layer).Inc()
}

// ObserveNavigationDelay records the duration of a pacing wait.
func ObserveNavigationDelay(duration time.Duration) {
	Init()
	navigationDelaySeconds.Observe(duration.Seconds())
}

// ObserveSweep adds the number of records a sweep removed.
func ObserveSweep(removed int) {
	Init()
	if removed > 0 {
		sweptRecordsTotal.Add(float64(removed))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
