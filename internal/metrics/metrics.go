package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelforge",
			Name:      "jobs_total",
			Help:      "Jobs finished, labeled by terminal status",
		},
		[]string{"status"},
	)

	imagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelforge",
			Name:      "images_processed_total",
			Help:      "Source images processed, labeled by result and crop strategy",
		},
		[]string{"result", "strategy"},
	)

	stageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelforge",
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage outcomes (processing, composing, generating_pdf) by result",
		},
		[]string{"stage", "result"},
	)

	remoteReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelforge",
			Name:      "remote_requests_total",
			Help:      "Remote processing service requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	remoteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pixelforge",
			Name:      "remote_request_duration_seconds",
			Help:      "Duration of remote processing service requests by endpoint",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pixelforge",
			Name:      "retries_total",
			Help:      "Total per-file retry attempts",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixelforge",
			Name:      "breaker_events_total",
			Help:      "Remote-service circuit breaker events by action",
		},
		[]string{"action"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pixelforge",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(jobsTotal, imagesProcessed, stageOutcomes, remoteReqs, remoteLatency, retriesTotal, breakerEvents, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncJob(status string) { jobsTotal.WithLabelValues(status).Inc() }

func IncImage(result, strategy string) { imagesProcessed.WithLabelValues(result, strategy).Inc() }

func IncStage(stage, result string) { stageOutcomes.WithLabelValues(stage, result).Inc() }

func ObserveRemote(endpoint, result string, dur time.Duration) {
	remoteReqs.WithLabelValues(endpoint, result).Inc()
	remoteLatency.WithLabelValues(endpoint).Observe(dur.Seconds())
}

func IncRetry() { retriesTotal.Inc() }

func BreakerOpened() { breakerEvents.WithLabelValues("opened").Inc() }
func BreakerClosed() { breakerEvents.WithLabelValues("closed").Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
