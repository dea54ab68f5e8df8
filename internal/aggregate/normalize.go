package aggregate

import (
	"regexp"
	"strings"

	"price-aggregator/internal/models"
)

var nonAlnumRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// KnownBrands is the brand lexicon in priority order.
var KnownBrands = []string{
	"Amul",
	"Gowardhan",
	"Mother Dairy",
	"Desi Farms",
	"Pride of Cows",
	"Milky Mist",
	"Humpy Farms",
	"iD",
	"Nestle",
	"Tata",
	"Britannia",
	"Kurkure",
	"Lays",
	"Parle",
	"Patanjali",
	"Cadbury",
	"Bisleri",
	"Milton",
	"Cello",
	"Speedex",
	"Aquafina",
	"Kinley",
}

// NormalizeTitle lowercases, collapses every non-alphanumeric run to one space and trims.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(nonAlnumRegexp.ReplaceAllString(strings.ToLower(title), " "))
}

// Brands this short only match as whole tokens.
const shortBrandLen = 2

type brandEntry struct {
	name string
	norm string
}

func (e brandEntry) matches(normalizedTitle, padded string) bool {
	if len(e.norm) <= shortBrandLen {
		return strings.Contains(padded, " "+e.norm+" ")
	}
	return strings.Contains(normalizedTitle, e.norm)
}

// BrandLexicon detects brands in normalized titles.
type BrandLexicon struct {
	entries []brandEntry
}

// NewBrandLexicon builds a lexicon; earlier names win ties.
func NewBrandLexicon(names []string) *BrandLexicon {
	entries := make([]brandEntry, 0, len(names))
	for _, n := range names {
		norm := NormalizeTitle(n)
		if norm == "" {
			continue
		}
		entries = append(entries, brandEntry{name: n, norm: norm})
	}
	return &BrandLexicon{entries: entries}
}

// Detect returns the longest brand contained in normalizedTitle, or models.GenericBrand.
func (l *BrandLexicon) Detect(normalizedTitle string) string {
	padded := " " + normalizedTitle + " "
	best := ""
	bestLen := 0
	for _, e := range l.entries {
		if len(e.norm) > bestLen && e.matches(normalizedTitle, padded) {
			best, bestLen = e.name, len(e.norm)
		}
	}
	if best == "" {
		return models.GenericBrand
	}
	return best
}

var defaultLexicon = NewBrandLexicon(KnownBrands)

// DetectBrand runs the default lexicon.
func DetectBrand(normalizedTitle string) string {
	return defaultLexicon.Detect(normalizedTitle)
}

// Normalize derives price, normalized title and brand for one raw listing.
func (e *Engine) Normalize(raw models.RawListing) models.NormalizedListing {
	norm := NormalizeTitle(raw.Title)
	brand := models.GenericBrand
	if norm != "" {
		brand = e.lexicon.Detect(norm)
	}
	return models.NormalizedListing{
		RawListing:      raw,
		NumericPrice:    ParsePrice(raw.PriceText),
		NormalizedTitle: norm,
		Brand:           brand,
	}
}
