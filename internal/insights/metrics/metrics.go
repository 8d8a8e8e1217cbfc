package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const MetricPrefix = "insights_"

var QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    MetricPrefix + "query_duration_seconds",
	Help:    "Duration of queries sent to the store",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
}, []string{"kind", "result"})

var CountQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: MetricPrefix + "count_queries_total",
	Help: "Number of total count queries issued because a page came back full",
})

var StackFanOut = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    MetricPrefix + "stack_fan_out",
	Help:    "Number of nested stack computations per stacked aggregation",
	Buckets: prometheus.ExponentialBuckets(1, 2, 10),
})

var StackWorkerFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: MetricPrefix + "stack_worker_failures_total",
	Help: "Number of nested stack computations that failed",
})

var StacksTruncatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: MetricPrefix + "stacks_truncated_total",
	Help: "Number of stacked aggregations that only computed stacks for their largest buckets",
})

var ProfileResolutionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: MetricPrefix + "profile_resolution_failures_total",
	Help: "Number of aggregations that proceeded without profile overrides because they could not be loaded",
})

func ExposeInsightsMetrics() {
	prometheus.MustRegister(
		QueryDuration,
		CountQueriesTotal,
		StackFanOut,
		StackWorkerFailuresTotal,
		StacksTruncatedTotal,
		ProfileResolutionFailuresTotal,
	)
}

func RecordQuery(kind string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	QueryDuration.WithLabelValues(kind, result).Observe(duration.Seconds())
}
