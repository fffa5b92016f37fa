package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Paris", "paris"},
		{"trailing period", "Paris.", "paris"},
		{"surrounding whitespace", "  PARIS  ", "paris"},
		{"quotes and commas", `"Le Nil", bien sûr!`, "le nil bien sûr"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeAnswer(tc.in))
		})
	}
}

func TestAnswersMatch(t *testing.T) {
	for _, submitted := range []string{"Paris.", "paris", " PARIS "} {
		assert.True(t, answersMatch(submitted, "Paris"), "%q should match", submitted)
	}

	assert.False(t, answersMatch("Pariss", "Paris"))
	assert.False(t, answersMatch("", "Paris"))
	assert.False(t, answersMatch("Par is", "Paris"))
}
