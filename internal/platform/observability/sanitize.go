package observability

import (
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	routeLimit         = 180
	idLimit            = 64
)

// sanitizeString strips control characters and truncates to limit runes so request data
// cannot forge log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute bounds a path or route pattern for logs and span names.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

// SanitizeID bounds an opaque identifier such as a session scope or user id.
func SanitizeID(id string) string {
	return sanitizeString(id, idLimit)
}
