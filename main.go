package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"shareq/internal/config"
	"shareq/internal/delivery"
	"shareq/internal/kv"
	"shareq/internal/log"
	"shareq/internal/metrics"
	"shareq/internal/queue"
	"shareq/internal/server"
	"shareq/internal/trigger"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	logger := log.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	store, err := kv.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	q := queue.New(store, cfg, logger)
	client := delivery.NewClient(cfg, logger)

	reg := prometheus.NewRegistry()
	shareMetrics := metrics.New(reg, q, cfg, logger)
	watcher := trigger.NewWatcher(q, client, shareMetrics, cfg, logger)
	janitor := trigger.NewJanitor(q, shareMetrics, cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcherDone := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(watcherDone)
	}()
	go shareMetrics.Run(ctx)
	if err := janitor.Start(); err != nil {
		logger.Fatal("Failed to start janitor", zap.Error(err))
	}
	defer janitor.Stop()

	r := chi.NewRouter()
	server.SetupRouter(r, cfg, q, client, shareMetrics, reg, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	// The watcher runs its final flush after ctx cancellation; wait for it
	// so the process does not exit with the last pass half done.
	<-watcherDone
}
