// Package metrics defines the Prometheus collectors for analyses and HTTP.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Analysis outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var registerOnce sync.Once

var (
	Analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatdetect_analyses_total",
			Help: "Total number of analyzed files",
		}, []string{"status", "mood"},
	)
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatdetect_analysis_duration_seconds",
			Help:    "Time to decode and analyze one file",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatdetect_http_requests_total",
			Help: "HTTP requests processed",
		}, []string{"path", "method", "status"},
	)
)

// Register adds the collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Analyses, AnalysisDuration, HTTPRequests)
	})
}

// ObserveAnalysis records one analysis outcome.
func ObserveAnalysis(status, mood string, elapsed time.Duration) {
	Analyses.WithLabelValues(status, mood).Inc()
	AnalysisDuration.Observe(elapsed.Seconds())
}
