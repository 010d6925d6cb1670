package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeAnalyzed labels incidents that reached the analyzed state.
	OutcomeAnalyzed = "analyzed"
	// OutcomeNoTrace labels incidents left detected because no trace was found.
	OutcomeNoTrace = "no_trace"
	// OutcomeFailed labels incidents whose pipeline aborted unexpectedly.
	OutcomeFailed = "failed"

	// FilingCreated, FilingSkipped and FilingFailed label issue-filing attempts.
	FilingCreated = "created"
	FilingSkipped = "skipped"
	FilingFailed  = "failed"
)

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_aha",
			Name:      "webhook_events_total",
			Help:      "Webhook events received, partitioned by acknowledgement status.",
		},
		[]string{"status"},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_aha",
			Name:      "incidents_processed_total",
			Help:      "Incidents processed by the pipeline, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_aha",
			Name:      "pipeline_seconds",
			Help:      "End-to-end incident pipeline latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	diagnosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_aha",
			Name:      "diagnoses_total",
			Help:      "Diagnoses produced, partitioned by provider and whether the fallback was used.",
		},
		[]string{"provider", "fallback"},
	)

	issuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_aha",
			Name:      "issues_total",
			Help:      "Issue filing attempts, partitioned by result.",
		},
		[]string{"result"},
	)

	traceCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_aha",
			Name:      "trace_cache_lookups_total",
			Help:      "Trace cache lookups, partitioned by hit or miss.",
		},
		[]string{"result"},
	)

	dispatchOverflowTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_aha",
			Name:      "dispatch_overflow_total",
			Help:      "Jobs run outside the worker pool because the queue was full.",
		},
	)
)

// Register attaches mirador-aha collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		webhookEventsTotal,
		incidentsTotal,
		pipelineDurationSeconds,
		diagnosesTotal,
		issuesTotal,
		traceCacheTotal,
		dispatchOverflowTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveWebhook counts an acknowledged webhook event.
func ObserveWebhook(status string) {
	webhookEventsTotal.WithLabelValues(status).Inc()
}

// ObservePipeline records a pipeline run duration and its outcome.
func ObservePipeline(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeAnalyzed, OutcomeNoTrace:
	default:
		outcome = OutcomeFailed
	}
	incidentsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineDurationSeconds.Observe(duration.Seconds())
}

// ObserveDiagnosis counts a diagnosis by provider name.
func ObserveDiagnosis(provider string, fallback bool) {
	if provider == "" {
		provider = "none"
	}
	label := "false"
	if fallback {
		label = "true"
	}
	diagnosesTotal.WithLabelValues(provider, label).Inc()
}

// ObserveIssue counts an issue filing attempt.
func ObserveIssue(result string) {
	issuesTotal.WithLabelValues(result).Inc()
}

// ObserveTraceCache counts a trace cache lookup.
func ObserveTraceCache(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	traceCacheTotal.WithLabelValues(label).Inc()
}

// ObserveDispatchOverflow counts a job that bypassed the worker queue.
func ObserveDispatchOverflow() {
	dispatchOverflowTotal.Inc()
}
