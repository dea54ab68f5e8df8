package aggregate

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"price-aggregator/internal/models"
)

// DefaultMatchThreshold is the largest normalized edit distance accepted as a search hit.
const DefaultMatchThreshold = 0.35

// fuzzyIndex answers approximate token searches over normalized titles.
type fuzzyIndex struct {
	titles    [][]string
	threshold float64
}

type hit struct {
	idx   int
	score float64
}

func newFuzzyIndex(listings []models.NormalizedListing, threshold float64) *fuzzyIndex {
	titles := make([][]string, len(listings))
	for i, l := range listings {
		titles[i] = strings.Fields(l.NormalizedTitle)
	}
	return &fuzzyIndex{titles: titles, threshold: threshold}
}

// search scores each title by its best window of len(pattern tokens) tokens and returns hits
// ordered by score, then by index.
func (fi *fuzzyIndex) search(pattern string) []hit {
	want := strings.Fields(pattern)
	if len(want) == 0 {
		return nil
	}
	needle := strings.Join(want, " ")

	var hits []hit
	for i, tokens := range fi.titles {
		best := 1.0
		for start := 0; start+len(want) <= len(tokens); start++ {
			window := strings.Join(tokens[start:start+len(want)], " ")
			if s := distanceRatio(needle, window); s < best {
				best = s
			}
			if best == 0 {
				break
			}
		}
		if best <= fi.threshold {
			hits = append(hits, hit{idx: i, score: best})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score < hits[b].score
	})
	return hits
}

func distanceRatio(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

// Match clusters listings from different sources under their shared brand. Listings without a
// usable title are ignored; Generic listings are never grouped.
func (e *Engine) Match(listings []models.NormalizedListing) []models.ProductGroup {
	usable := make([]models.NormalizedListing, 0, len(listings))
	for _, l := range listings {
		if l.NormalizedTitle != "" {
			usable = append(usable, l)
		}
	}

	var brands []string
	first := make(map[string]int)
	counts := make(map[string]int)
	for i, l := range usable {
		if l.Brand == models.GenericBrand {
			continue
		}
		if _, ok := first[l.Brand]; !ok {
			first[l.Brand] = i
			brands = append(brands, l.Brand)
		}
		counts[l.Brand]++
	}

	index := newFuzzyIndex(usable, e.threshold)
	groups := make([]models.ProductGroup, 0)
	for _, brand := range brands {
		if counts[brand] < 2 {
			continue
		}
		seen := make(map[string]struct{})
		var members []models.GroupMember
		for _, h := range index.search(NormalizeTitle(brand)) {
			l := usable[h.idx]
			if _, dup := seen[l.SourceID]; dup {
				continue
			}
			seen[l.SourceID] = struct{}{}
			members = append(members, models.GroupMember{SourceID: l.SourceID, Listing: l})
		}
		if len(members) < 2 {
			continue
		}
		groups = append(groups, models.ProductGroup{
			Brand:               brand,
			RepresentativeTitle: usable[first[brand]].Title,
			Members:             members,
			MinPrice:            minMemberPrice(members),
		})
	}
	return groups
}

func minMemberPrice(members []models.GroupMember) *float64 {
	var min *float64
	for _, m := range members {
		p := m.Listing.NumericPrice
		if p == nil {
			continue
		}
		if min == nil || *p < *min {
			v := *p
			min = &v
		}
	}
	return min
}
