package models

import "time"

// GenericBrand is assigned when no known brand appears in a title.
const GenericBrand = "Generic"

// RawListing is one product entry exactly as a source adapter returned it.
type RawListing struct {
	SourceID     string `json:"sourceId"`
	Title        string `json:"title"`
	PriceText    string `json:"priceText"`
	QuantityText string `json:"quantityText,omitempty"`
	ImageURL     string `json:"imageUrl,omitempty"`
	DetailURL    string `json:"detailUrl,omitempty"`
	LocationEcho string `json:"locationEcho,omitempty"`
	// Position is the source-local ordering, if the adapter reports one.
	Position int `json:"position,omitempty"`
}

// NormalizedListing is a RawListing with derived fields. Never mutated after creation.
type NormalizedListing struct {
	RawListing
	NumericPrice    *float64 `json:"numericPrice"`
	NormalizedTitle string   `json:"normalizedTitle"`
	Brand           string   `json:"brand"`
}

// RankedListing is a priced listing placed in the global ranking.
type RankedListing struct {
	NormalizedListing
	Rank int `json:"rank"`
}

// GroupMember is one source's listing inside a ProductGroup.
type GroupMember struct {
	SourceID string            `json:"sourceId"`
	Listing  NormalizedListing `json:"listing"`
}

// ProductGroup clusters listings from different sources judged to be the same product.
type ProductGroup struct {
	Brand               string        `json:"brand"`
	RepresentativeTitle string        `json:"representativeTitle"`
	Members             []GroupMember `json:"members"`
	MinPrice            *float64      `json:"minPrice"`
}

// SourceSummary is the per-source digest of one aggregation.
type SourceSummary struct {
	SourceID    string   `json:"sourceId"`
	Count       int      `json:"count"`
	PricedCount int      `json:"pricedCount"`
	AvgPrice    *float64 `json:"avgPrice"`
	MinPrice    *float64 `json:"minPrice"`
	Failed      bool     `json:"failed"`
}

// AggregateResult is the final output of one job. Never mutated after creation.
type AggregateResult struct {
	JobID              string                  `json:"jobId"`
	Location           string                  `json:"location"`
	Query              string                  `json:"query"`
	Timestamp          time.Time               `json:"timestamp"`
	RankedListings     []RankedListing         `json:"rankedListings"`
	LowestPriceListing *RankedListing          `json:"lowestPriceListing"`
	PerSourceRaw       map[string][]RawListing `json:"perSourceRaw"`
	ProductGroups      []ProductGroup          `json:"productGroups"`
	SourceSummaries    []SourceSummary         `json:"sourceSummaries"`
}
