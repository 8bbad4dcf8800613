package queue

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce    sync.Once
	processedTotal *prometheus.CounterVec
)

// MustRegisterMetrics registers the queue collectors once.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Tasks handled, by kind and outcome (ok, retry, dead).",
		}, []string{"kind", "status"})
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
			c = are.ExistingCollector.(*prometheus.CounterVec)
		}
		processedTotal = c
	})
}

func observe(kind, status string) {
	if processedTotal != nil {
		processedTotal.WithLabelValues(kind, status).Inc()
	}
}
