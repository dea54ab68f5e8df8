package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"price-aggregator/internal/models"
	"price-aggregator/internal/queue"
	"price-aggregator/internal/sink"
	"price-aggregator/internal/telemetry"
)

// JobQueue is the consumer side of the job queue.
type JobQueue interface {
	DequeueNext(ctx context.Context, owner string) (models.Job, error)
	SetProgress(ctx context.Context, jobID, owner string, progress int) error
	Complete(ctx context.Context, jobID, owner string) error
	Fail(ctx context.Context, jobID, owner, reason string) error
	ExtendLease(ctx context.Context, jobID, owner string, extension time.Duration) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, []string, error)
	Depth(ctx context.Context) (int64, error)
	VisibilityTimeout() time.Duration
}

// Auditor records job lifecycle events.
type Auditor interface {
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// Orchestrator drives one claimed job from active to a terminal state.
type Orchestrator struct {
	pipeline *Pipeline
	queue    JobQueue
	sink     sink.Sink
	audit    Auditor
	logger   *slog.Logger
}

// NewOrchestrator wires the pipeline to the queue and sink. audit may be nil.
func NewOrchestrator(p *Pipeline, q JobQueue, s sink.Sink, audit Auditor, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{pipeline: p, queue: q, sink: s, audit: audit, logger: logger}
}

// Process runs a job claimed under owner. A non-nil error means the job did not complete;
// source failures never cause one.
func (o *Orchestrator) Process(ctx context.Context, job models.Job, owner string) error {
	ctx, span := telemetry.Tracer("worker").Start(ctx, "job.process")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.location", job.Location),
		attribute.String("job.query", job.Query),
	)
	defer span.End()

	start := time.Now()
	log := o.logger.With("job_id", job.ID, "location", job.Location, "query", job.Query)

	if err := o.queue.SetProgress(ctx, job.ID, owner, models.ProgressStarted); err != nil {
		return o.abandon(ctx, log, job, owner, "set progress", err)
	}
	o.auditEvent(ctx, job.ID, "started", fmt.Sprintf("attempt=%d", job.Attempts))

	stopHeartbeat := o.heartbeat(ctx, log, job.ID, owner)
	fan := o.pipeline.FanOut(ctx, job.Location, job.Query)
	stopHeartbeat()

	if err := o.queue.SetProgress(ctx, job.ID, owner, models.ProgressFetched); err != nil {
		return o.abandon(ctx, log, job, owner, "set progress", err)
	}

	result := o.pipeline.Aggregate(job.ID, job.Location, job.Query, fan)
	if err := o.queue.SetProgress(ctx, job.ID, owner, models.ProgressDone); err != nil {
		return o.abandon(ctx, log, job, owner, "set progress", err)
	}

	if err := o.sink.Write(ctx, result); err != nil {
		reason := fmt.Sprintf("sink write failed: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "sink write failed")
		if ferr := o.queue.Fail(ctx, job.ID, owner, reason); ferr != nil {
			log.Error("mark failed", "err", ferr)
		}
		telemetry.JobsFailed.Inc()
		o.auditEvent(ctx, job.ID, "failed", reason)
		log.Error("job failed", "reason", reason)
		return fmt.Errorf("write result: %w", err)
	}

	if err := o.queue.Complete(ctx, job.ID, owner); err != nil {
		return o.abandon(ctx, log, job, owner, "complete", err)
	}

	telemetry.JobsCompleted.Inc()
	telemetry.GroupsEmitted.Add(float64(len(result.ProductGroups)))
	telemetry.JobDuration.Observe(time.Since(start).Seconds())
	o.auditEvent(ctx, job.ID, "completed", fmt.Sprintf("ranked=%d groups=%d failed_sources=%d",
		len(result.RankedListings), len(result.ProductGroups), len(fan.Failed)))
	log.Info("job completed",
		"ranked", len(result.RankedListings),
		"groups", len(result.ProductGroups),
		"failed_sources", len(fan.Failed),
		"duration", time.Since(start).String(),
	)
	return nil
}

// abandon handles a queue error mid-job. Lost ownership leaves the job to its new owner;
// anything else fails the job if the queue still accepts the transition.
func (o *Orchestrator) abandon(ctx context.Context, log *slog.Logger, job models.Job, owner, step string, err error) error {
	if errors.Is(err, queue.ErrNotOwner) || errors.Is(err, queue.ErrTerminal) {
		log.Warn("job no longer owned", "step", step, "err", err)
		return fmt.Errorf("%s: %w", step, err)
	}
	reason := fmt.Sprintf("%s: %v", step, err)
	if ferr := o.queue.Fail(ctx, job.ID, owner, reason); ferr != nil {
		log.Error("mark failed", "err", ferr)
	}
	telemetry.JobsFailed.Inc()
	log.Error("job failed", "reason", reason)
	return fmt.Errorf("%s: %w", step, err)
}

// heartbeat extends the lease while sources are being fetched.
func (o *Orchestrator) heartbeat(ctx context.Context, log *slog.Logger, jobID, owner string) func() {
	visibility := o.queue.VisibilityTimeout()
	interval := visibility / 3
	if interval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := o.queue.ExtendLease(hbCtx, jobID, owner, visibility); err != nil && hbCtx.Err() == nil {
					log.Warn("extend lease", "err", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (o *Orchestrator) auditEvent(ctx context.Context, jobID, event, detail string) {
	if o.audit == nil {
		return
	}
	if err := o.audit.AppendAudit(ctx, jobID, event, detail); err != nil {
		o.logger.Warn("append audit", "job_id", jobID, "event", event, "err", err)
	}
}
