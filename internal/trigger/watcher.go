// Package trigger drives the queue: a connectivity watcher that flushes on
// reconnect and on a periodic interval, and a cron janitor that prunes
// expired shares.
package trigger

import (
	"context"
	"time"

	"shareq/internal/config"
	"shareq/internal/log"
	"shareq/internal/metrics"
	"shareq/internal/queue"

	"go.uber.org/zap"
)

// Deliverer is the slice of the delivery client the watcher needs.
type Deliverer interface {
	Deliver(ctx context.Context, item queue.Item) (bool, error)
	Healthy(ctx context.Context) bool
}

type Watcher struct {
	queue   *queue.Queue
	client  Deliverer
	metrics *metrics.ShareMetrics
	cfg     *config.Config
	logger  *log.Logger

	online    bool
	lastFlush time.Time
}

func NewWatcher(q *queue.Queue, client Deliverer, m *metrics.ShareMetrics, cfg *config.Config, logger *log.Logger) *Watcher {
	return &Watcher{
		queue:   q,
		client:  client,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher shutting down, performing final flush...")
			// Parent context is canceled; bound the final pass ourselves.
			flushCtx, cancel := context.WithTimeout(context.Background(), w.cfg.DeliveryTimeout*2)
			w.flush(flushCtx, "shutdown")
			cancel()
			w.logger.Info("Watcher shutdown complete")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	online := w.client.Healthy(ctx)
	wasOffline := !w.online
	w.online = online
	if !online {
		return
	}
	switch {
	case wasOffline:
		w.flush(ctx, "connectivity restored")
	case time.Since(w.lastFlush) >= w.cfg.FlushInterval:
		w.flush(ctx, "interval")
	}
}

func (w *Watcher) flush(ctx context.Context, reason string) {
	w.lastFlush = time.Now()
	res := w.queue.Flush(ctx, w.client.Deliver)
	if w.metrics != nil {
		w.metrics.ObserveFlush(res)
	}
	if res.Succeeded > 0 || res.Failed > 0 {
		w.logger.Info("Flushed share queue",
			zap.String("reason", reason), zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	}
}
