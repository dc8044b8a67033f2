package service

import (
	"fmt"
	"strings"

	"dream-server/internal/models"
)

// characterFraming is the fixed instruction used for the character-only
// image so every sequence starts from a clean, reusable reference.
const characterFraming = "Single full-body character, simple neutral background, facing the viewer."

// BuildCharacterFragment returns the reusable character-reference fragment
// carried through every prompt of a sequence. It is also handed back to the
// client by the preview operation so a later submission reuses it verbatim.
func BuildCharacterFragment(subjectLabel string) string {
	return fmt.Sprintf("The main character is %s. Keep the character's appearance identical to the reference image in every frame.", subjectLabel)
}

// Compose builds the final generation prompt in a fixed block order: global
// rules first so narrower instructions cannot override them, then style
// instructions, then character context, then the sanitized scene text.
// Pure and deterministic: identical inputs yield byte-identical output.
func Compose(style *models.StyleRecord, characterFragment string, description models.CharacterDescription, sceneText string, rules models.GlobalRules) string {
	parts := make([]string, 0, 7)

	if rules.AspectRatio != "" {
		parts = append(parts, "Aspect ratio: "+rules.AspectRatio+".")
	}
	if rules.Framing != "" {
		parts = append(parts, rules.Framing)
	}
	if rules.QualityDirectives != "" {
		parts = append(parts, rules.QualityDirectives)
	}
	if style != nil && style.BaseInstructions != "" {
		parts = append(parts, style.BaseInstructions)
	}
	if characterFragment != "" {
		parts = append(parts, characterFragment)
	}
	if !description.Empty() {
		parts = append(parts, "Character appearance: "+string(description))
	}
	if sceneText != "" {
		parts = append(parts, "Scene: "+sceneText)
	}

	return strings.Join(parts, "\n")
}

// ComposeCharacterPrompt builds the prompt for the character-only image:
// the style's character instructions (falling back to its base instructions)
// with an empty scene text and the fixed single-character framing.
func ComposeCharacterPrompt(style *models.StyleRecord, characterFragment string, description models.CharacterDescription, rules models.GlobalRules) string {
	characterStyle := style
	if style != nil && style.CharacterInstructions != "" {
		s := *style
		s.BaseInstructions = style.CharacterInstructions
		characterStyle = &s
	}
	prompt := Compose(characterStyle, characterFragment, description, "", rules)
	if prompt == "" {
		return characterFraming
	}
	return prompt + "\n" + characterFraming
}
