// Package textutil holds small string helpers shared by the storefront packages.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens value to at most limit bytes without splitting a UTF-8 sequence. Invalid
// bytes already present in value are dropped.
func Truncate(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(value) <= limit && utf8.ValidString(value) {
		return value
	}
	var b strings.Builder
	for _, r := range strings.ToValidUTF8(value, "") {
		size := utf8.RuneLen(r)
		if b.Len()+size > limit {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
