package vectorizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// tokenize splits text into word-character runs, mirroring the token rules
// the training pipeline used. Runs shorter than minLen are discarded.
func tokenize(text string, lowercase, accents bool, minLen int) []string {
	if lowercase {
		text = strings.ToLower(text)
	}
	if accents {
		text = stripAccents(text)
	}

	var tokens []string
	var run []rune
	flush := func() {
		if len(run) >= minLen {
			tokens = append(tokens, string(run))
		}
		run = run[:0]
	}
	for _, r := range text {
		if isWordChar(r) {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// isWordChar matches the \w class: letters, digits, underscore.
func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// stripAccents removes combining marks after canonical decomposition,
// so "café" and "cafe" tokenize identically.
func stripAccents(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
