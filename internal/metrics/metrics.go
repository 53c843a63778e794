package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aquasync",
			Name:      "bookings_submitted_total",
			Help:      "Bookings accepted by the submission flow.",
		},
	)

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aquasync",
			Name:      "sync_attempts_total",
			Help:      "Remote sync attempts by outcome.",
		},
		[]string{"outcome"},
	)

	opsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aquasync",
			Name:      "operations_dropped_total",
			Help:      "Queued operations dropped after exhausting retries.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aquasync",
			Name:      "queue_depth",
			Help:      "Pending operations in the offline queue.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingsSubmitted, syncAttempts, opsDropped, queueDepth)
	})
}

// IncSubmitted increments the accepted-bookings counter.
func IncSubmitted() {
	bookingsSubmitted.Inc()
}

// IncSync increments the sync-attempt counter for an outcome label.
func IncSync(outcome string) {
	syncAttempts.WithLabelValues(outcome).Inc()
}

// IncDropped increments the retry-exhausted counter.
func IncDropped() {
	opsDropped.Inc()
}

// SetQueueDepth records the current queue size.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
