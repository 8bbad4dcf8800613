package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SaleCommitsTotal counts commit attempts by terminal result (committed or the error kind).
	SaleCommitsTotal *prometheus.CounterVec
	// SaleCommitDuration records commit latency in milliseconds by result.
	SaleCommitDuration *prometheus.HistogramVec
	// SaleStageFailures counts failed commits by the state they failed in.
	SaleStageFailures *prometheus.CounterVec
	// CheckoutLockContention counts commits rejected because another commit held the cart.
	CheckoutLockContention prometheus.Counter
	// EventPublishFailures counts events that could not be delivered, by topic.
	EventPublishFailures *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers checkout Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SaleCommitsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_commits_total",
			Help:      "Count of sale commit attempts by result.",
		}, []string{"result"}))
		SaleCommitDuration = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_commit_duration_ms",
			Help:      "Sale commit latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"result"}))
		SaleStageFailures = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_stage_failures_total",
			Help:      "Count of failed sale commits by the state they failed in.",
		}, []string{"stage"}))
		CheckoutLockContention = registerOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_lock_contention_total",
			Help:      "Commits rejected because another commit for the cart was in flight.",
		}))
		EventPublishFailures = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Count of domain events that could not be delivered.",
		}, []string{"topic"}))
	})
}

// ObserveCommit records one finished commit. It is a no-op until the domain metrics are
// registered.
func ObserveCommit(result, stage string, millis float64) {
	if SaleCommitsTotal == nil {
		return
	}
	SaleCommitsTotal.WithLabelValues(result).Inc()
	SaleCommitDuration.WithLabelValues(result).Observe(millis)
	if stage != "" {
		SaleStageFailures.WithLabelValues(stage).Inc()
	}
}
