package aggregate

import (
	"sort"

	"price-aggregator/internal/models"
)

// Rank orders priced listings ascending by price. Unpriced listings are dropped; ties keep
// input order. Rank is 1-based and replaces any source position.
func Rank(listings []models.NormalizedListing) []models.RankedListing {
	ranked := make([]models.RankedListing, 0, len(listings))
	for _, l := range listings {
		if l.NumericPrice == nil {
			continue
		}
		ranked = append(ranked, models.RankedListing{NormalizedListing: l})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].NumericPrice < *ranked[j].NumericPrice
	})
	for i := range ranked {
		ranked[i].Position = 0
		ranked[i].Rank = i + 1
	}
	return ranked
}
