package trigger

import (
	"context"

	"shareq/internal/config"
	"shareq/internal/log"
	"shareq/internal/metrics"
	"shareq/internal/queue"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor prunes expired shares on a cron schedule. Pruning is otherwise
// lazy, so without the janitor an idle queue would keep dead items on disk
// until the next flush.
type Janitor struct {
	queue   *queue.Queue
	metrics *metrics.ShareMetrics
	cfg     *config.Config
	logger  *log.Logger
	cron    *cron.Cron
}

func NewJanitor(q *queue.Queue, m *metrics.ShareMetrics, cfg *config.Config, logger *log.Logger) *Janitor {
	return &Janitor{
		queue:   q,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
		cron:    cron.New(),
	}
}

func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.cfg.PruneSchedule, func() {
		pruned := j.queue.PruneExpired(context.Background())
		if pruned > 0 && j.metrics != nil {
			j.metrics.PrunedTotal.Add(float64(pruned))
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("Janitor started", zap.String("schedule", j.cfg.PruneSchedule))
	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
