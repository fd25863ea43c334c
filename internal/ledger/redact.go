package ledger

import (
	"net/url"
	"strings"
)

// redactedPlaceholder replaces secret query-parameter values.
const redactedPlaceholder = "[redacted]"

// SecretSet normalizes a list of secret parameter names into the lookup set
// Redact expects.
func SecretSet(params []string) map[string]bool {
	set := make(map[string]bool, len(params))
	for _, p := range params {
		set[normalizeParam(p)] = true
	}
	return set
}

// Redact replaces the value of every query parameter whose name is in
// secrets with a placeholder. Parameter order and the rest of the URL are
// preserved byte-for-byte; an unparseable URL is returned unchanged rather
// than leaked through an error path.
func Redact(rawURL string, secrets map[string]bool) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}

	parts := strings.Split(u.RawQuery, "&")
	changed := false
	for i, part := range parts {
		name, _, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		if secrets[normalizeParam(name)] {
			parts[i] = name + "=" + redactedPlaceholder
			changed = true
		}
	}
	if !changed {
		return rawURL
	}

	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}

func normalizeParam(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
