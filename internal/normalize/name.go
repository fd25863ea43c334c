package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Name canonicalizes a city or airport name for natural-key comparison:
// trimmed and NFC-normalized so that composed and decomposed Unicode
// spellings ("Zürich") compare equal. Display casing is preserved.
func Name(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
