package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"price-aggregator/internal/config"
	"price-aggregator/internal/queue"
	"price-aggregator/internal/source"
	"price-aggregator/internal/telemetry"
)

// Processor drives the worker execution loop.
type Processor struct {
	cfg          config.Config
	queue        JobQueue
	orchestrator *Orchestrator
	workerID     string
	logger       *slog.Logger
}

// NewProcessor creates a processor with a worker ID used to derive claim tokens.
func NewProcessor(cfg config.Config, q JobQueue, o *Orchestrator, workerID string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:          cfg,
		queue:        q,
		orchestrator: o,
		workerID:     workerID,
		logger:       logger.With("worker_id", workerID),
	}
}

// Run starts WorkerConcurrency consumer loops plus lease maintenance until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	n := p.cfg.WorkerConcurrency
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx)
		}()
	}
	p.logger.Info("worker started", "concurrency", n, "visibility", p.queue.VisibilityTimeout().String())
	wg.Wait()
	return ctx.Err()
}

// consume processes one job at a time.
func (p *Processor) consume(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		owner := queue.NewOwnerToken(p.workerID)
		job, err := p.queue.DequeueNext(ctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			wait := source.BackoffWithJitter(p.pollInterval(), 30*time.Second, failures)
			p.logger.Error("dequeue failed", "err", err, "retry_in", wait.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		telemetry.InFlightGauge.Inc()
		if err := p.orchestrator.Process(ctx, job, owner); err != nil {
			p.logger.Warn("job not completed", "job_id", job.ID, "err", err)
		}
		telemetry.InFlightGauge.Dec()
	}
}

// maintain reclaims expired leases and samples queue depth.
func (p *Processor) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		requeued, failed, err := p.queue.RequeueExpired(ctx, time.Now(), 100)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("requeue expired", "err", err)
		}
		if len(requeued) > 0 {
			telemetry.JobsReclaimed.Add(float64(len(requeued)))
			p.logger.Info("reclaimed expired leases", "jobs", requeued)
		}
		if len(failed) > 0 {
			telemetry.JobsFailed.Add(float64(len(failed)))
			p.logger.Warn("jobs exhausted attempts", "jobs", failed)
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
	}
}

func (p *Processor) pollInterval() time.Duration {
	if p.cfg.WorkerPollInterval > 0 {
		return p.cfg.WorkerPollInterval
	}
	return time.Second
}
