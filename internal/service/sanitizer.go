package service

import (
	"regexp"
	"strings"
)

// styleDirectivePatterns matches user-authored style directives that would
// conflict with the catalog style chosen for the whole sequence. The set is
// fixed: sanitization must stay deterministic and idempotent.
var styleDirectivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bin\s+(?:a\s+|the\s+)?(?:\w+[\s-]){0,2}style(?:\s+of\s+\w+(?:\s+\w+){0,3})?`),
	regexp.MustCompile(`(?i)\bas\s+an?\s+(?:anime|manga|cartoon|comic|sketch|painting|photograph)\b`),
	regexp.MustCompile(`(?i)\bin\s+(?:pastel|muted|vivid|neon|monochrome|sepia)\s+(?:tones|colou?rs)\b`),
	regexp.MustCompile(`(?i)\b(?:watercolou?r|oil[\s-]painting|pixel[\s-]art|photorealistic|hyperrealistic|cel[\s-]shaded|low[\s-]poly)\b`),
	regexp.MustCompile(`(?i)\bdrawn\s+(?:like|as|by)\s+\w+(?:\s+\w+){0,3}`),
	regexp.MustCompile(`(?i)\b(?:8k|4k|uhd|ultra[\s-]detailed|masterpiece|trending\s+on\s+artstation)\b`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// danglingPunctuation cleans up separators stranded by a removed phrase,
// e.g. "clouds , at night" or a leading comma.
var danglingPunctuation = regexp.MustCompile(`\s+([,.;!?])`)

// SanitizeSceneText strips style directives from user-authored scene text so
// they cannot contradict the chosen style, then collapses whitespace and
// trims. Pure and idempotent; an empty result means the caller should fall
// back to the default scene policy.
func SanitizeSceneText(text string) string {
	// Removing one directive can expose a match for an earlier pattern
	// ("in as an anime style" loses "as an anime" and leaves "in style"),
	// so the pattern pass repeats until nothing changes. Every pass only
	// shrinks the text, so the loop terminates.
	for {
		before := text
		for _, p := range styleDirectivePatterns {
			text = p.ReplaceAllString(text, "")
		}
		if text == before {
			break
		}
	}
	text = danglingPunctuation.ReplaceAllString(text, "$1")
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.Trim(text, " ,.;")
	return strings.TrimSpace(text)
}
