package prompts

import (
	"strings"
	"testing"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/tmc/langchaingo/llms"
)

func TestBuildMatchPrompt(t *testing.T) {
	prompt := BuildMatchPrompt(MatchInput{
		GameName:        "medical",
		GameDescription: "ER triage",
		MoveID:          "pain_assessment",
		Patterns:        []string{"pain in my {location}", "it hurts"},
		Text:            "my ticker hurts",
		Vocabulary:      map[string][]string{"heart": {"ticker", "chest"}},
		History: []llms.ChatMessage{
			llms.AIChatMessage{Content: "What brings you in?"},
			llms.HumanChatMessage{Content: "not feeling well"},
		},
		SuccessfulPatterns: []string{"pain in my {location}"},
		LastQuestion:       "Where does it hurt?",
	})

	assert.Contains(t, prompt, `"medical" conversation`)
	assert.Contains(t, prompt, "Purpose: ER triage")
	assert.Contains(t, prompt, "- it hurts")
	assert.Contains(t, prompt, "- heart: ticker, chest")
	assert.Contains(t, prompt, "Assistant: What brings you in?\nUser: not feeling well")
	assert.Contains(t, prompt, `The assistant last asked: "Where does it hurt?"`)
	assert.Contains(t, prompt, "Phrasings that worked recently:")
	assert.Contains(t, prompt, `User said: "my ticker hurts"`)
}

func TestBuildMatchPromptOmitsEmptySections(t *testing.T) {
	prompt := BuildMatchPrompt(MatchInput{GameName: "g", MoveID: "m", Text: "hi"})

	assert.NotContains(t, prompt, "Vocabulary:")
	assert.NotContains(t, prompt, "Recent conversation:")
	assert.NotContains(t, prompt, "Purpose:")
}

func TestBuildSlotPrompt(t *testing.T) {
	lo, hi := 1.0, 10.0
	long := strings.Repeat("x", 150)
	prompt := BuildSlotPrompt(SlotInput{
		Slot: game.SlotDefinition{
			Name: "severity", Type: game.SlotRange, Min: &lo, Max: &hi,
			SemanticContext: "pain intensity",
			Vocabulary:      map[string][]string{"10": {"unbearable"}},
		},
		Text: "pretty bad",
		History: []llms.ChatMessage{
			llms.HumanChatMessage{Content: "one"},
			llms.HumanChatMessage{Content: "two"},
			llms.AIChatMessage{Content: "three"},
			llms.HumanChatMessage{Content: long},
		},
		FilledSlots: map[string]any{"location": "chest"},
	})

	assert.Contains(t, prompt, `extracting the "severity" slot`)
	assert.Contains(t, prompt, "Context: pain intensity")
	assert.Contains(t, prompt, "'10' also means: unbearable")
	assert.Contains(t, prompt, "between 1 and 10 (inclusive)")
	assert.NotContains(t, prompt, "User: one")
	assert.Contains(t, prompt, "User: two")
	assert.Contains(t, prompt, "User: "+strings.Repeat("x", 100)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("x", 101))
	assert.Contains(t, prompt, "location: chest")
}

func TestSlotSchema(t *testing.T) {
	s := SlotSchema(game.SlotDefinition{Name: "color", Type: game.SlotEnum, EnumValues: []string{"red", "blue"}})

	assert.Len(t, s, 4)
	assert.Equal(t, "value", s[0].Name)
	assert.Equal(t, []string{"red", "blue"}, s[0].Enum)
	assert.Contains(t, s.Describe(), "[one of: red, blue]")
}

func TestRelevantVocabulary(t *testing.T) {
	vocab := map[string][]string{
		"heart":  {"ticker", "cardiac"},
		"doctor": {"physician"},
	}

	got := RelevantVocabulary(vocab, "My TICKER is racing")
	assert.Equal(t, map[string][]string{"heart": {"ticker", "cardiac"}}, got)

	assert.Empty(t, RelevantVocabulary(vocab, "nothing here"))
	assert.Contains(t, RelevantVocabulary(vocab, "need a doctor"), "doctor")
}
