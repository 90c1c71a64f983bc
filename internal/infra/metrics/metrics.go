package metrics

import "strings"

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// orUnknown keeps label cardinality bounded when a caller passes an empty value.
func orUnknown(s string) string {
	if s = norm(s); s == "" {
		return "unknown"
	}
	return s
}
