package model

import "strings"

// DefaultPreviewLen is the preview budget applied when a caller does not
// configure one.
const DefaultPreviewLen = 120

// Preview reduces a description to its first line, truncated to at most
// limit runes. Truncation is rune-safe; a trailing "..." marks cut text.
func Preview(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultPreviewLen
	}
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
