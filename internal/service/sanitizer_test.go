package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSceneText(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text untouched",
			input:    "a child flying over clouds",
			expected: "a child flying over clouds",
		},
		{
			name:     "style-of directive removed",
			input:    "a child flying over clouds in the style of an old painter",
			expected: "a child flying over clouds",
		},
		{
			name:     "watercolor directive removed",
			input:    "a watercolor forest at dawn",
			expected: "a forest at dawn",
		},
		{
			name:     "as an anime removed",
			input:    "a dragon over the city as an anime",
			expected: "a dragon over the city",
		},
		{
			name:     "stacked directives removed in one call",
			input:    "a dragon in as an anime style over the city",
			expected: "a dragon over the city",
		},
		{
			name:     "pastel tones removed",
			input:    "a quiet meadow in pastel tones, with a small house",
			expected: "a quiet meadow, with a small house",
		},
		{
			name:     "quality spam removed",
			input:    "a castle on a hill, 8k, masterpiece",
			expected: "a castle on a hill",
		},
		{
			name:     "whitespace collapsed and trimmed",
			input:    "  a   boat\t on the   lake  ",
			expected: "a boat on the lake",
		},
		{
			name:     "directive-only text reduces to empty",
			input:    "in watercolor style",
			expected: "",
		},
		{
			name:     "empty stays empty",
			input:    "",
			expected: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSceneText(tc.input))
		})
	}
}

func TestSanitizeSceneText_Idempotent(t *testing.T) {
	inputs := []string{
		"a child flying over clouds in the style of an old painter",
		"a watercolor forest, drawn like a sketch, 8k",
		"  spaced   out   text  ",
		"plain scene with nothing to remove",
		"in pastel tones in anime style as a cartoon",
		"in as an anime style",
		"a dragon in as an anime style over the city",
		"",
	}

	for _, input := range inputs {
		once := SanitizeSceneText(input)
		twice := SanitizeSceneText(once)
		assert.Equal(t, once, twice, "sanitize must be idempotent for %q", input)
	}
}
