package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "replybot"

var (
	// PollsTotal counts feed polls by outcome.
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Feed polls by result (ok, error, quota_exhausted).",
	}, []string{"result"})

	// PostsEvaluated counts newest-post evaluations.
	PostsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_evaluated_total",
		Help:      "Newest posts evaluated per poll, by kind (new, seen, empty).",
	}, []string{"kind"})

	// RepliesTotal counts reply pipeline outcomes.
	RepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_total",
		Help:      "Reply pipeline outcomes by status and reason.",
	}, []string{"status", "reason"})

	// CyclesTotal counts scheduler cycles.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Scheduler cycles by outcome (completed, quota_idle, aborted, panic).",
	}, []string{"outcome"})

	// CycleDuration records time spent checking a batch, excluding the wait.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Scheduler cycle duration in seconds, excluding the inter-cycle wait.",
		Buckets:   []float64{1, 5, 15, 60, 180, 600},
	})

	// NextWaitSeconds is the most recently computed inter-cycle wait.
	NextWaitSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "next_wait_seconds",
		Help:      "Most recently computed inter-cycle wait in seconds.",
	})

	// QuotaUsed tracks events recorded in each rate window.
	QuotaUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "quota_used",
		Help:      "Events recorded in the current rate window.",
	}, []string{"window"})

	// QuotaLimit tracks the configured limit of each rate window.
	QuotaLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "quota_limit",
		Help:      "Configured limit of the rate window.",
	}, []string{"window"})

	// AccountHitRate tracks new posts per poll for each account.
	AccountHitRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "account_hit_rate",
		Help:      "New posts found per poll for the account in the current stats epoch.",
	}, []string{"account"})

	// APICalls counts raw upstream HTTP calls.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_calls_total",
		Help:      "Raw upstream API call counts.",
	}, []string{"endpoint", "status"})

	// APIDuration records upstream HTTP latency.
	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_duration_seconds",
		Help:      "Upstream API call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
	}, []string{"endpoint"})

	// StateErrors counts persisted-state failures that degraded to defaults.
	StateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_errors_total",
		Help:      "Persisted state load/save failures by store and operation.",
	}, []string{"store", "op"})

	// SeenRecords tracks the size of the dedup ledger.
	SeenRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "seen_records",
		Help:      "Records in the dedup ledger.",
	})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})
)
