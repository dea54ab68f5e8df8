package aggregate

import (
	"time"

	"price-aggregator/internal/models"
)

// Engine turns per-source listings into one AggregateResult.
type Engine struct {
	lexicon   *BrandLexicon
	threshold float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithBrands replaces the brand lexicon.
func WithBrands(names []string) Option {
	return func(e *Engine) { e.lexicon = NewBrandLexicon(names) }
}

// WithThreshold sets the fuzzy match distance threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.threshold = t
		}
	}
}

// NewEngine returns an engine with the default brand lexicon and match threshold.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{lexicon: defaultLexicon, threshold: DefaultMatchThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Input is everything one job collected at the fan-in barrier.
type Input struct {
	JobID    string
	Location string
	Query    string
	// Order is the source fan-out order; it drives tie-breaking and summary order.
	Order     []string
	PerSource map[string][]models.RawListing
	Failed    map[string]bool
	Now       time.Time
}

// Build normalizes, ranks and groups the listings of one job.
func (e *Engine) Build(in Input) models.AggregateResult {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	perSource := make(map[string][]models.RawListing, len(in.Order))
	var merged []models.NormalizedListing
	for _, id := range in.Order {
		raw := in.PerSource[id]
		if raw == nil {
			raw = []models.RawListing{}
		}
		perSource[id] = raw
		for _, r := range raw {
			merged = append(merged, e.Normalize(r))
		}
	}

	ranked := Rank(merged)
	var lowest *models.RankedListing
	if len(ranked) > 0 {
		head := ranked[0]
		lowest = &head
	}

	return models.AggregateResult{
		JobID:              in.JobID,
		Location:           in.Location,
		Query:              in.Query,
		Timestamp:          now,
		RankedListings:     ranked,
		LowestPriceListing: lowest,
		PerSourceRaw:       perSource,
		ProductGroups:      e.Match(merged),
		SourceSummaries:    Summaries(in.Order, perSource, in.Failed),
	}
}

// Summaries computes per-source count and price statistics in fan-out order.
func Summaries(order []string, perSource map[string][]models.RawListing, failed map[string]bool) []models.SourceSummary {
	out := make([]models.SourceSummary, 0, len(order))
	for _, id := range order {
		s := models.SourceSummary{SourceID: id, Count: len(perSource[id]), Failed: failed[id]}
		var sum float64
		for _, l := range perSource[id] {
			p := ParsePrice(l.PriceText)
			if p == nil {
				continue
			}
			s.PricedCount++
			sum += *p
			if s.MinPrice == nil || *p < *s.MinPrice {
				s.MinPrice = p
			}
		}
		if s.PricedCount > 0 {
			avg := sum / float64(s.PricedCount)
			s.AvgPrice = &avg
		}
		out = append(out, s)
	}
	return out
}
