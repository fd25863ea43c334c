// Package normalize holds the per-source transforms between raw upstream
// payloads and typed rows: coordinate and quantity parsing, natural-key
// canonicalization, and geodesic distance.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// dmsPattern matches degree/minute/second coordinates like 52°31′12″N,
// tolerating ASCII quote variants and missing minute/second components.
var dmsPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*°\s*(?:(\d+(?:\.\d+)?)\s*[′'’]\s*)?(?:(\d+(?:\.\d+)?)\s*[″"”]\s*)?([NSEW])?\s*$`)

// ParseCoordinate converts a coordinate string to decimal degrees. Both
// plain decimal ("52.52") and DMS ("52°31′12″N") forms are accepted; south
// and west hemispheres yield negative values.
func ParseCoordinate(s string) (float64, error) {
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return v, nil
	}

	m := dmsPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, eris.Errorf("normalize: unparseable coordinate %q", s)
	}

	deg, _ := strconv.ParseFloat(m[1], 64)
	var minutes, seconds float64
	if m[2] != "" {
		minutes, _ = strconv.ParseFloat(m[2], 64)
	}
	if m[3] != "" {
		seconds, _ = strconv.ParseFloat(m[3], 64)
	}

	v := deg + minutes/60 + seconds/3600
	if m[4] == "S" || m[4] == "W" {
		v = -v
	}
	return v, nil
}
