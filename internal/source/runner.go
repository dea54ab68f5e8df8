package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"price-aggregator/internal/models"
	"price-aggregator/internal/telemetry"
)

var (
	// ErrPanic marks an attempt whose adapter panicked.
	ErrPanic = errors.New("adapter panicked")
	// ErrTimeout marks an attempt that outlived its deadline.
	ErrTimeout = errors.New("adapter deadline exceeded")
)

// FailureEvent describes a source whose listings were replaced by an empty list.
type FailureEvent struct {
	Source   string
	Err      error
	Attempts int
}

// Reason classifies the failure for metrics labels.
func (e FailureEvent) Reason() string {
	switch {
	case errors.Is(e.Err, ErrPanic):
		return "panic"
	case errors.Is(e.Err, ErrTimeout):
		return "timeout"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// Outcome is what the isolation wrapper hands back for one source. It never carries an error.
type Outcome struct {
	SourceID string
	Listings []models.RawListing
	Failed   bool
	Attempts int
}

// Runner invokes adapters so that no adapter failure, hang or panic reaches the caller.
type Runner struct {
	logger    *slog.Logger
	observers []func(FailureEvent)
}

// NewRunner builds a runner. Observers are called once per failed source.
func NewRunner(logger *slog.Logger, observers ...func(FailureEvent)) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, observers: observers}
}

// Run fetches from src with its retry policy and always returns a listing slice (possibly empty).
func (r *Runner) Run(ctx context.Context, src Source, location, query string) Outcome {
	policy := src.Policy.withDefaults()
	ctx, span := telemetry.Tracer("source").Start(ctx, "source.fetch")
	span.SetAttributes(attribute.String("source.id", src.ID))
	defer span.End()

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempts < policy.MaxAttempts {
		attempts++
		listings, err := r.attempt(ctx, src, policy.Timeout, location, query)
		if err == nil {
			out := stamp(src.ID, listings)
			telemetry.ObserveSource(src.ID, start, len(out))
			span.SetAttributes(attribute.Int("source.listings", len(out)), attribute.Int("source.attempts", attempts))
			return Outcome{SourceID: src.ID, Listings: out, Attempts: attempts}
		}
		lastErr = err
		r.logger.Warn("source attempt failed", "source", src.ID, "attempt", attempts, "err", err)
		if attempts >= policy.MaxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(BackoffWithJitter(policy.BackoffInitial, policy.BackoffMax, attempts)):
		}
		if ctx.Err() != nil {
			break
		}
	}

	ev := FailureEvent{Source: src.ID, Err: lastErr, Attempts: attempts}
	telemetry.ObserveSource(src.ID, start, 0)
	telemetry.SourceFailures.WithLabelValues(src.ID, ev.Reason()).Inc()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "source isolated")
	r.logger.Error("source isolated", "source", src.ID, "attempts", attempts, "reason", ev.Reason(), "err", lastErr)
	for _, obs := range r.observers {
		obs(ev)
	}
	return Outcome{SourceID: src.ID, Listings: []models.RawListing{}, Failed: true, Attempts: attempts}
}

type fetchResult struct {
	listings []models.RawListing
	err      error
}

// attempt runs the adapter in its own goroutine. An adapter that ignores ctx is abandoned at the
// deadline; its late result lands in the buffered channel and is dropped.
func (r *Runner) attempt(ctx context.Context, src Source, timeout time.Duration, location, query string) ([]models.RawListing, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fetchResult{err: fmt.Errorf("%w: %v", ErrPanic, rec)}
			}
		}()
		listings, err := src.Adapter.Fetch(actx, location, query)
		done <- fetchResult{listings: listings, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, res.err)
		}
		return res.listings, res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func stamp(sourceID string, in []models.RawListing) []models.RawListing {
	out := make([]models.RawListing, len(in))
	for i, l := range in {
		l.SourceID = sourceID
		out[i] = l
	}
	return out
}
