package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"price-aggregator/internal/models"
)

// Adapter fetches the listings one source offers for a location and query.
type Adapter interface {
	Fetch(ctx context.Context, location, query string) ([]models.RawListing, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, location, query string) ([]models.RawListing, error)

func (f AdapterFunc) Fetch(ctx context.Context, location, query string) ([]models.RawListing, error) {
	return f(ctx, location, query)
}

// RetryPolicy bounds how long and how often one source is tried within a job.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Timeout is the deadline of a single attempt.
	Timeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = 500 * time.Millisecond
	}
	if p.BackoffMax < p.BackoffInitial {
		p.BackoffMax = p.BackoffInitial
	}
	if p.Timeout <= 0 {
		p.Timeout = 60 * time.Second
	}
	return p
}

// Source is a registered adapter together with its identity and policy.
type Source struct {
	ID      string
	Adapter Adapter
	Policy  RetryPolicy
}

// Registry is the ordered set of sources a job fans out to.
type Registry struct {
	sources []Source
}

// NewRegistry validates ids and keeps the given order.
func NewRegistry(sources ...Source) (*Registry, error) {
	seen := make(map[string]struct{}, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("source id is required")
		}
		if s.Adapter == nil {
			return nil, fmt.Errorf("source %q has no adapter", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return &Registry{sources: out}, nil
}

// Sources returns the registered sources in fan-out order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// IDs returns the source ids in fan-out order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.sources))
	for i, s := range r.sources {
		ids[i] = s.ID
	}
	return ids
}

func (r *Registry) Len() int { return len(r.sources) }
