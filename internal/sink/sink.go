package sink

import (
	"context"
	"errors"

	"price-aggregator/internal/models"
)

// ErrNotFound is returned when no result has been written for the key asked for.
var ErrNotFound = errors.New("result not found")

// Sink persists AggregateResults. Write is called exactly once per completed job. The latest
// slot is shared by all jobs, so concurrent jobs overwrite it.
type Sink interface {
	Write(ctx context.Context, result models.AggregateResult) error
	ReadLatest(ctx context.Context) (models.AggregateResult, error)
	Read(ctx context.Context, jobID string) (models.AggregateResult, error)
}
