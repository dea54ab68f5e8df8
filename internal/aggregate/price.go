package aggregate

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// currencyPriceRegexp captures the first number following a currency marker.
	currencyPriceRegexp = regexp.MustCompile(`(?i)(?:₹|\brs\.?|\binr|\$|€|£)\s*(\d+(?:\.\d+)?)`)
	// anyNumberRegexp captures the first number anywhere.
	anyNumberRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// thousandsRegexp matches digit-group commas like "1,250".
	thousandsRegexp = regexp.MustCompile(`(\d),(\d{3})`)
)

// ParsePrice extracts a numeric price from free-form price text. It returns nil when no
// number is present.
func ParsePrice(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for thousandsRegexp.MatchString(s) {
		s = thousandsRegexp.ReplaceAllString(s, "$1$2")
	}

	match := ""
	if m := currencyPriceRegexp.FindStringSubmatch(s); len(m) == 2 {
		match = m[1]
	} else {
		match = anyNumberRegexp.FindString(s)
	}
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}
