package metrics

import (
	"context"
	"time"

	"shareq/internal/config"
	"shareq/internal/log"
	"shareq/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
)

type ShareMetrics struct {
	EnqueuedTotal  prometheus.Counter
	DeliveredTotal prometheus.Counter
	FailedTotal    prometheus.Counter
	AbandonedTotal prometheus.Counter
	PrunedTotal    prometheus.Counter
	QueueDepth     prometheus.Gauge

	queue  *queue.Queue
	cfg    *config.Config
	logger *log.Logger
}

// New registers the share metrics on reg. The registerer is injected so
// tests can use an isolated registry.
func New(reg prometheus.Registerer, q *queue.Queue, cfg *config.Config, logger *log.Logger) *ShareMetrics {
	m := &ShareMetrics{
		EnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shareq_enqueued_total",
			Help: "Total number of shares accepted into the queue",
		}),
		DeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shareq_delivered_total",
			Help: "Total number of shares delivered to the journal API",
		}),
		FailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shareq_failed_total",
			Help: "Total number of failed delivery attempts",
		}),
		AbandonedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shareq_abandoned_total",
			Help: "Total number of shares abandoned after exhausting retries",
		}),
		PrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shareq_pruned_total",
			Help: "Total number of expired shares removed by pruning",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shareq_queue_depth",
			Help: "Number of pending, non-expired shares in the queue",
		}),
		queue:  q,
		cfg:    cfg,
		logger: logger,
	}
	reg.MustRegister(
		m.EnqueuedTotal,
		m.DeliveredTotal,
		m.FailedTotal,
		m.AbandonedTotal,
		m.PrunedTotal,
		m.QueueDepth,
	)
	return m
}

// Run refreshes the queue-depth gauge until ctx is canceled.
func (m *ShareMetrics) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Metrics collection shutting down")
			return
		case <-ticker.C:
			m.QueueDepth.Set(float64(len(m.queue.ListPending(ctx))))
		}
	}
}

// ObserveFlush folds one flush pass into the counters.
func (m *ShareMetrics) ObserveFlush(res queue.FlushResult) {
	m.DeliveredTotal.Add(float64(res.Succeeded))
	m.FailedTotal.Add(float64(res.Failed))
	m.AbandonedTotal.Add(float64(res.Abandoned))
	m.PrunedTotal.Add(float64(res.Pruned))
}
