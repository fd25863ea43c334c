package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var firstInteger = regexp.MustCompile(`-?\d+`)

// ParseNumber strips thousands separators and leading signs quantity values
// carry ("+3,677,472") and parses the first integer found. Returns false if
// the string contains no number.
func ParseNumber(s string) (int64, bool) {
	cleaned := strings.ReplaceAll(s, ",", "")
	cleaned = strings.TrimPrefix(strings.TrimSpace(cleaned), "+")
	m := firstInteger.FindString(cleaned)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Wikidata time precision codes; 9 = year, 10 = month, 11 = day.
const (
	precisionYear  = 9
	precisionMonth = 10
	precisionDay   = 11
)

// ParseWikidataTime converts a Wikidata time value like
// "+2019-05-31T00:00:00Z" into a date string honoring the stated precision:
// "2019-05-31" for day precision, "2019-05" for month, "2019" for year.
// Returns false for values that do not look like a Wikidata time.
func ParseWikidataTime(value string, precision int) (string, bool) {
	s := strings.TrimPrefix(strings.TrimSpace(value), "+")
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return "", false
	}
	switch {
	case precision <= precisionYear:
		return s[:4], true
	case precision == precisionMonth:
		return s[:7], true
	default:
		return s[:10], true
	}
}
