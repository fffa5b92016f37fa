package main

import (
	"strings"
	"unicode"
)

// normalizeAnswer prepares a submitted or canonical answer for comparison:
// surrounding whitespace is trimmed, letters are lowercased, and punctuation
// and symbol runes are dropped. Wording is otherwise kept intact, so "Paris."
// matches "paris" but "Pariss" does not.
func normalizeAnswer(s string) string {
	var b strings.Builder

	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return strings.TrimSpace(b.String())
}

func answersMatch(submitted, canonical string) bool {
	return normalizeAnswer(submitted) == normalizeAnswer(canonical)
}
