package source

import (
	"fmt"
	"path/filepath"

	"price-aggregator/internal/config"
)

// BuildRegistry turns validated source specs into a registry. Relative fixture paths resolve
// against baseDir.
func BuildRegistry(cfg config.Config, specs []config.SourceSpec, baseDir string) (*Registry, error) {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		policy := RetryPolicy{
			MaxAttempts:    cfg.SourceMaxAttempts,
			BackoffInitial: cfg.SourceBackoffInitial,
			BackoffMax:     cfg.SourceBackoffMax,
			Timeout:        cfg.SourceTimeout,
		}
		if spec.Timeout > 0 {
			policy.Timeout = spec.Timeout
		}
		if r := spec.Retry; r != nil {
			if r.MaxAttempts > 0 {
				policy.MaxAttempts = r.MaxAttempts
			}
			if r.BackoffInitial > 0 {
				policy.BackoffInitial = r.BackoffInitial
			}
			if r.BackoffMax > 0 {
				policy.BackoffMax = r.BackoffMax
			}
		}

		var adapter Adapter
		switch spec.Kind {
		case config.SourceKindHTTP:
			a, err := NewHTTPJSONAdapter(HTTPJSONAdapterOptions{
				BaseURL:   spec.BaseURL,
				UserAgent: spec.UserAgent,
				Timeout:   policy.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", spec.ID, err)
			}
			adapter = a
		case config.SourceKindFixture:
			path := spec.Path
			if !filepath.IsAbs(path) && baseDir != "" {
				path = filepath.Join(baseDir, path)
			}
			adapter = NewFixtureAdapter(path)
		default:
			return nil, fmt.Errorf("%w: source %q has unknown kind %q", config.ErrInvalidSources, spec.ID, spec.Kind)
		}
		sources = append(sources, Source{ID: spec.ID, Adapter: adapter, Policy: policy})
	}
	return NewRegistry(sources...)
}
