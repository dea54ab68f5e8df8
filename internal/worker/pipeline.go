package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"price-aggregator/internal/aggregate"
	"price-aggregator/internal/models"
	"price-aggregator/internal/source"
)

// FanIn holds what every source produced once all of them settled.
type FanIn struct {
	Order     []string
	PerSource map[string][]models.RawListing
	Failed    map[string]bool
}

// Pipeline fans a query out to every registered source and aggregates the survivors.
type Pipeline struct {
	registry *source.Registry
	runner   *source.Runner
	engine   *aggregate.Engine
	logger   *slog.Logger
}

// NewPipeline wires a registry to a runner and engine; nil runner or engine get defaults.
func NewPipeline(reg *source.Registry, runner *source.Runner, engine *aggregate.Engine, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = source.NewRunner(logger)
	}
	if engine == nil {
		engine = aggregate.NewEngine()
	}
	return &Pipeline{registry: reg, runner: runner, engine: engine, logger: logger}
}

// FanOut runs every source concurrently and returns after the last one settles.
func (p *Pipeline) FanOut(ctx context.Context, location, query string) FanIn {
	sources := p.registry.Sources()
	outcomes := make([]source.Outcome, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = p.runner.Run(ctx, src, location, query)
			return nil
		})
	}
	_ = g.Wait()

	fan := FanIn{
		Order:     make([]string, len(sources)),
		PerSource: make(map[string][]models.RawListing, len(sources)),
		Failed:    make(map[string]bool, len(sources)),
	}
	for i, out := range outcomes {
		fan.Order[i] = sources[i].ID
		fan.PerSource[sources[i].ID] = out.Listings
		if out.Failed {
			fan.Failed[sources[i].ID] = true
		}
	}
	return fan
}

// Aggregate builds the result for one job from a completed fan-in.
func (p *Pipeline) Aggregate(jobID, location, query string, fan FanIn) models.AggregateResult {
	return p.engine.Build(aggregate.Input{
		JobID:     jobID,
		Location:  location,
		Query:     query,
		Order:     fan.Order,
		PerSource: fan.PerSource,
		Failed:    fan.Failed,
	})
}

// Run is FanOut followed by Aggregate.
func (p *Pipeline) Run(ctx context.Context, jobID, location, query string) models.AggregateResult {
	fan := p.FanOut(ctx, location, query)
	return p.Aggregate(jobID, location, query, fan)
}
