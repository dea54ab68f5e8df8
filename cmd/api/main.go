package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "price-aggregator/internal/api"
	"price-aggregator/internal/config"
	"price-aggregator/internal/queue"
	"price-aggregator/internal/ratelimit"
	"price-aggregator/internal/store"
	"price-aggregator/internal/telemetry"
)

func main() {
	cfg := config.Load()
	shutdown, logger := telemetry.Init(cfg.ServiceName+"-api", cfg.LogLevel, cfg.OTLPEndpoint)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, st, closeSink, err := store.OpenSink(ctx, cfg)
	if err != nil {
		logger.Error("open result sink", "sink", cfg.ResultSink, "err", err)
		os.Exit(1)
	}
	defer closeSink()

	client := queue.NewClient(cfg)
	defer client.Close()
	q := queue.NewRedisQueue(client, cfg)
	limiter := ratelimit.NewTokenBucket(client, cfg.QueuePrefix+":rl", cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	var audit api.AuditReader
	if st != nil {
		audit = st
	}
	server := api.New(q, results, limiter, audit, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "sink", cfg.ResultSink)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = shutdown(shutdownCtx)
}
