package matcher

import (
	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/prompts"
	"github.com/tmc/langchaingo/llms"
)

const (
	// HistoryWindow is how many turns a fresh context carries.
	HistoryWindow = 5
	maxHistory    = 10
	maxSuccessful = 10
)

// MatchingContext is the per-turn grounding handed to the LLM stage. It is
// built fresh for each turn and treated as read-only by the matcher.
type MatchingContext struct {
	GameName           string
	GameDescription    string
	Vocabulary         map[string][]string
	History            []llms.ChatMessage
	FilledSlots        map[string]any
	CurrentMove        string
	SuccessfulPatterns []string
	LastQuestion       string
}

// NewMatchingContext seeds a context with the game's metadata.
func NewMatchingContext(g *game.CompiledGame) *MatchingContext {
	mc := &MatchingContext{FilledSlots: map[string]any{}}
	if g != nil {
		mc.GameName = g.Name
		mc.GameDescription = g.Description
		mc.Vocabulary = g.Vocabulary
	}
	return mc
}

// AddTurn appends a message, keeping at most the last ten.
func (c *MatchingContext) AddTurn(role, content string) {
	var msg llms.ChatMessage
	switch role {
	case "assistant":
		msg = llms.AIChatMessage{Content: content}
	case "system":
		msg = llms.SystemChatMessage{Content: content}
	default:
		msg = llms.HumanChatMessage{Content: content}
	}
	c.History = append(c.History, msg)
	if len(c.History) > maxHistory {
		c.History = c.History[len(c.History)-maxHistory:]
	}
}

// AddSuccessfulPattern records a pattern that led to a confident match.
func (c *MatchingContext) AddSuccessfulPattern(pattern string) {
	c.SuccessfulPatterns = append(c.SuccessfulPatterns, pattern)
	if len(c.SuccessfulPatterns) > maxSuccessful {
		c.SuccessfulPatterns = c.SuccessfulPatterns[len(c.SuccessfulPatterns)-maxSuccessful:]
	}
}

// RelevantVocabulary filters the vocabulary to entries mentioned in text.
func (c *MatchingContext) RelevantVocabulary(text string) map[string][]string {
	return prompts.RelevantVocabulary(c.Vocabulary, text)
}

// RecentHistory returns the last n messages, most recent last.
func (c *MatchingContext) RecentHistory(n int) []llms.ChatMessage {
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}
