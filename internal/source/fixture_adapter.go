package source

import (
	"context"
	"fmt"
	"os"

	"price-aggregator/internal/models"
)

// FixtureAdapter serves listings from a JSON file regardless of location or query.
type FixtureAdapter struct {
	path string
}

func NewFixtureAdapter(path string) *FixtureAdapter {
	return &FixtureAdapter{path: path}
}

func (a *FixtureAdapter) Fetch(ctx context.Context, location, query string) ([]models.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	listings, err := DecodeListings(data)
	if err != nil {
		return nil, err
	}
	for i := range listings {
		if listings[i].LocationEcho == "" {
			listings[i].LocationEcho = location
		}
	}
	return listings, nil
}
