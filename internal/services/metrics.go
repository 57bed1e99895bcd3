package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics live in the default registry so every service in the
// package records into the same set regardless of how it was wired.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recommendation_requests_total",
		Help: "Serving requests by surface and outcome",
	}, []string{"surface", "outcome"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recommendation_request_duration_seconds",
		Help:    "End-to-end latency per serving surface",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"surface"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Latency of each pipeline stage",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"stage"})

	recallYield = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recall_branch_candidates",
		Help:    "Candidates contributed by each recall branch before the merge",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 200},
	}, []string{"branch"})

	degradationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_degradations_total",
		Help: "Soft failures absorbed by the pipeline, by source",
	}, []string{"source"})

	userEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "user_events_total",
		Help: "Events accepted by the fast-path, by kind",
	}, []string{"kind"})

	eventQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_queue_drops_total",
		Help: "Durable event writes dropped because the queue was full",
	})
)

func recordRequest(surface, outcome string, start time.Time) {
	requestsTotal.WithLabelValues(surface, outcome).Inc()
	requestLatency.WithLabelValues(surface).Observe(time.Since(start).Seconds())
}

func observeStage(stage string, start time.Time) {
	stageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func recordRecallYield(latent, content, popular int) {
	recallYield.WithLabelValues("latent").Observe(float64(latent))
	recallYield.WithLabelValues("content").Observe(float64(content))
	recallYield.WithLabelValues("popularity").Observe(float64(popular))
}

func recordDegradation(source string) {
	degradationsTotal.WithLabelValues(source).Inc()
}

func recordEvent(kind string) {
	userEventsTotal.WithLabelValues(kind).Inc()
}
