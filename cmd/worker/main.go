package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"price-aggregator/internal/aggregate"
	"price-aggregator/internal/config"
	"price-aggregator/internal/queue"
	"price-aggregator/internal/source"
	"price-aggregator/internal/store"
	"price-aggregator/internal/telemetry"
	workerproc "price-aggregator/internal/worker"
)

func main() {
	cfg := config.Load()
	shutdown, logger := telemetry.Init(cfg.ServiceName+"-worker", cfg.LogLevel, cfg.OTLPEndpoint)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	specs, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		logger.Error("load sources", "file", cfg.SourcesFile, "err", err)
		os.Exit(1)
	}
	registry, err := source.BuildRegistry(cfg, specs, filepath.Dir(cfg.SourcesFile))
	if err != nil {
		logger.Error("build source registry", "err", err)
		os.Exit(1)
	}

	results, st, closeSink, err := store.OpenSink(ctx, cfg)
	if err != nil {
		logger.Error("open result sink", "sink", cfg.ResultSink, "err", err)
		os.Exit(1)
	}
	defer closeSink()

	client := queue.NewClient(cfg)
	defer client.Close()
	q := queue.NewRedisQueue(client, cfg)

	// Worker ID from env, falling back to hostname.
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	var audit workerproc.Auditor
	if st != nil {
		audit = st
	}
	pipeline := workerproc.NewPipeline(registry, source.NewRunner(logger), aggregate.NewEngine(), logger)
	orchestrator := workerproc.NewOrchestrator(pipeline, q, results, audit, logger)
	processor := workerproc.NewProcessor(cfg, q, orchestrator, workerID, logger)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	logger.Info("worker starting", "sources", registry.IDs(), "sink", cfg.ResultSink)
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "err", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = shutdown(shutdownCtx)
}
