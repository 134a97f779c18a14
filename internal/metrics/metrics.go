package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dispatchly/internal/domain/notification"
)

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchly_notifications_total",
		Help: "Notifications accepted for dispatch, by category and priority.",
	}, []string{"category", "priority"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchly_deliveries_total",
		Help: "Settled per-channel deliveries, by channel and outcome.",
	}, []string{"channel", "outcome"})

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatchly_attempt_duration_seconds",
		Help:    "Adapter call duration, by channel and attempt outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel", "outcome"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchly_rate_limited_total",
		Help: "Deliveries deferred by the rate limiter, by scope.",
	}, []string{"scope"})

	batchFlushSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatchly_batch_flush_size",
		Help:    "Number of items per flushed batch window.",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	})
)

var _ notification.MetricsRecorder = Recorder{}

// Recorder feeds dispatch engine signals into Prometheus.
type Recorder struct{}

func (Recorder) NotificationEnqueued(cat notification.Category, prio notification.Priority) {
	notificationsTotal.WithLabelValues(string(cat), string(prio)).Inc()
}

func (Recorder) DeliveryResolved(ch notification.Channel, kind notification.OutcomeKind) {
	deliveriesTotal.WithLabelValues(string(ch), string(kind)).Inc()
}

func (Recorder) AttemptObserved(ch notification.Channel, outcome notification.AttemptOutcome, seconds float64) {
	attemptDuration.WithLabelValues(string(ch), string(outcome)).Observe(seconds)
}

func (Recorder) RateLimited(scope string) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
}

func (Recorder) BatchFlushed(size int) {
	batchFlushSize.Observe(float64(size))
}
