package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dream-server/internal/models"
)

func testStyle() *models.StyleRecord {
	return &models.StyleRecord{
		Key:                   "storybook",
		DisplayName:           "Storybook",
		BaseInstructions:      "Soft storybook illustration with warm colors.",
		CharacterInstructions: "Draw the character as a friendly storybook protagonist.",
	}
}

func testRules() models.GlobalRules {
	return models.GlobalRules{
		AspectRatio:       "2:3",
		Framing:           "Keep the main character fully in frame.",
		QualityDirectives: "Clean lines, coherent anatomy.",
	}
}

func TestCompose_BlockOrder(t *testing.T) {
	fragment := BuildCharacterFragment("my daughter")
	prompt := Compose(testStyle(), fragment, "short brown hair, red jacket", "flying over clouds", testRules())

	lines := strings.Split(prompt, "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "Aspect ratio: 2:3.", lines[0])
	assert.Equal(t, "Keep the main character fully in frame.", lines[1])
	assert.Equal(t, "Clean lines, coherent anatomy.", lines[2])
	assert.Equal(t, "Soft storybook illustration with warm colors.", lines[3])
	assert.Equal(t, fragment, lines[4])
	assert.Equal(t, "Character appearance: short brown hair, red jacket", lines[5])
	assert.Equal(t, "Scene: flying over clouds", lines[6])
}

func TestCompose_Deterministic(t *testing.T) {
	fragment := BuildCharacterFragment("my son")
	first := Compose(testStyle(), fragment, "curly hair", "a boat on a lake", testRules())
	second := Compose(testStyle(), fragment, "curly hair", "a boat on a lake", testRules())
	assert.Equal(t, first, second)
}

func TestCompose_OmitsEmptyBlocks(t *testing.T) {
	t.Run("empty description", func(t *testing.T) {
		prompt := Compose(testStyle(), "fragment", "", "a scene", testRules())
		assert.NotContains(t, prompt, "Character appearance:")
		assert.Contains(t, prompt, "Scene: a scene")
	})

	t.Run("nil style", func(t *testing.T) {
		prompt := Compose(nil, "fragment", "desc", "a scene", testRules())
		assert.NotContains(t, prompt, "storybook")
		assert.Contains(t, prompt, "fragment")
	})

	t.Run("empty rules", func(t *testing.T) {
		prompt := Compose(testStyle(), "fragment", "desc", "a scene", models.GlobalRules{})
		assert.NotContains(t, prompt, "Aspect ratio:")
		lines := strings.Split(prompt, "\n")
		assert.Equal(t, "Soft storybook illustration with warm colors.", lines[0])
	})
}

func TestComposeCharacterPrompt(t *testing.T) {
	fragment := BuildCharacterFragment("my daughter")
	prompt := ComposeCharacterPrompt(testStyle(), fragment, "short brown hair", testRules())

	assert.Contains(t, prompt, "Draw the character as a friendly storybook protagonist.")
	assert.NotContains(t, prompt, "Soft storybook illustration with warm colors.")
	assert.NotContains(t, prompt, "Scene:")
	assert.True(t, strings.HasSuffix(prompt, "Single full-body character, simple neutral background, facing the viewer."))
}

func TestComposeCharacterPrompt_FallsBackToBaseInstructions(t *testing.T) {
	style := testStyle()
	style.CharacterInstructions = ""
	prompt := ComposeCharacterPrompt(style, "fragment", "", testRules())
	assert.Contains(t, prompt, "Soft storybook illustration with warm colors.")
}

func TestBuildCharacterFragment(t *testing.T) {
	fragment := BuildCharacterFragment("my daughter")
	assert.Contains(t, fragment, "my daughter")
	assert.Contains(t, fragment, "identical to the reference image")
}
