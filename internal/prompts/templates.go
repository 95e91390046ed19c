package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/llm"
	"github.com/tmc/langchaingo/llms"
)

const MatchPrompt = `You are scoring how well a user's message fits one move of the "%s" conversation.
%s
Move: %s
Trigger patterns:
%s
%s
User said: "%s"

Rate from 0.0 to 1.0 how confident you are that the user intends this move.
Use the vocabulary to resolve synonyms and slang. Use the conversation to resolve references.
Only rate above 0.9 when the intent is unambiguous.`

// historyTurns bounds how much conversation the match prompt carries.
const historyTurns = 5

// MatchInput carries everything the match prompt renders.
type MatchInput struct {
	GameName           string
	GameDescription    string
	MoveID             string
	Patterns           []string
	Text               string
	Vocabulary         map[string][]string
	History            []llms.ChatMessage
	SuccessfulPatterns []string
	FilledSlots        map[string]any
	LastQuestion       string
}

// MatchSchema is the response contract of the match prompt.
var MatchSchema = llm.Schema{
	{Name: "confidence", Type: "number", Description: "match confidence", Minimum: ptr(0), Maximum: ptr(1)},
	{Name: "reasoning", Type: "string", Description: "one sentence explaining the score"},
}

func BuildMatchPrompt(in MatchInput) string {
	var header string
	if in.GameDescription != "" {
		header = "Purpose: " + in.GameDescription + "\n"
	}

	var patterns strings.Builder
	for _, p := range in.Patterns {
		patterns.WriteString(fmt.Sprintf("- %s\n", p))
	}

	var extra strings.Builder
	if section := vocabularySection(in.Vocabulary); section != "" {
		extra.WriteString("\nVocabulary:\n" + section)
	}
	if h := renderHistory(in.History, historyTurns, 0); h != "" {
		extra.WriteString("\nRecent conversation:\n" + h + "\n")
	}
	if in.LastQuestion != "" {
		extra.WriteString(fmt.Sprintf("\nThe assistant last asked: %q\n", in.LastQuestion))
	}
	if len(in.FilledSlots) > 0 {
		extra.WriteString("\nAlready known:\n" + filledSection(in.FilledSlots))
	}
	if len(in.SuccessfulPatterns) > 0 {
		extra.WriteString("\nPhrasings that worked recently:\n")
		for _, p := range in.SuccessfulPatterns {
			extra.WriteString(fmt.Sprintf("- %s\n", p))
		}
	}

	return fmt.Sprintf(MatchPrompt,
		in.GameName,
		header,
		in.MoveID,
		strings.TrimRight(patterns.String(), "\n"),
		extra.String(),
		in.Text,
	)
}

// SlotInput carries everything the slot extraction prompt renders.
type SlotInput struct {
	Slot        game.SlotDefinition
	Text        string
	History     []llms.ChatMessage
	FilledSlots map[string]any
}

// BuildSlotPrompt renders the semantic extraction prompt for one slot.
func BuildSlotPrompt(in SlotInput) string {
	s := in.Slot
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are extracting the %q slot.\n", s.Name))
	b.WriteString(fmt.Sprintf("Slot type: %s\n", s.Type))
	if s.SemanticContext != "" {
		b.WriteString("Context: " + s.SemanticContext + "\n")
	}
	if len(s.Vocabulary) > 0 {
		b.WriteString("\nVocabulary:\n")
		for _, term := range sortedKeys(s.Vocabulary) {
			b.WriteString(fmt.Sprintf("  - '%s' also means: %s\n", term, strings.Join(s.Vocabulary[term], ", ")))
		}
	}
	if len(s.EnumValues) > 0 {
		b.WriteString("\nValid values: " + strings.Join(s.EnumValues, ", ") + "\n")
	}
	if s.Type == game.SlotRange && s.Min != nil && s.Max != nil {
		b.WriteString(fmt.Sprintf("\nValue must be between %g and %g (inclusive)\n", *s.Min, *s.Max))
	}
	if h := renderHistory(in.History, 3, 100); h != "" {
		b.WriteString("\nRecent conversation:\n" + h + "\n")
	}
	if len(in.FilledSlots) > 0 {
		b.WriteString("\nAlready filled:\n" + filledSection(in.FilledSlots))
	}

	b.WriteString(fmt.Sprintf("\nUser said: %q\n", in.Text))
	b.WriteString(fmt.Sprintf("\nExtract the %s from the user's input.\n", s.Name))
	b.WriteString("Consider the intended meaning, the vocabulary, the conversation and the slots already filled.\n")
	b.WriteString("\nIf the value is not clearly present, give your best guess with confidence below 0.5 ")
	b.WriteString("and list alternatives when ambiguous.")
	return b.String()
}

// SlotSchema is the response contract for extracting s.
func SlotSchema(s game.SlotDefinition) llm.Schema {
	value := llm.Field{Name: "value", Type: slotValueType(s.Type), Description: "the extracted " + s.Name}
	if len(s.EnumValues) > 0 {
		value.Enum = s.EnumValues
	}
	if s.Type == game.SlotRange {
		value.Minimum, value.Maximum = s.Min, s.Max
	}
	return llm.Schema{
		value,
		{Name: "confidence", Type: "number", Description: "confidence in the extraction", Minimum: ptr(0), Maximum: ptr(1)},
		{Name: "reasoning", Type: "string", Description: "how the value was derived"},
		{Name: "alternatives", Type: "array", Description: "other plausible values"},
	}
}

func slotValueType(t game.SlotType) string {
	switch t {
	case game.SlotNumber, game.SlotRange:
		return "number"
	}
	return "string"
}

// RelevantVocabulary keeps the entries whose term or a synonym occurs in
// text, case-insensitively.
func RelevantVocabulary(vocab map[string][]string, text string) map[string][]string {
	lower := strings.ToLower(text)
	out := make(map[string][]string)
	for term, synonyms := range vocab {
		if strings.Contains(lower, strings.ToLower(term)) {
			out[term] = synonyms
			continue
		}
		for _, syn := range synonyms {
			if strings.Contains(lower, strings.ToLower(syn)) {
				out[term] = synonyms
				break
			}
		}
	}
	return out
}

func vocabularySection(vocab map[string][]string) string {
	var b strings.Builder
	for _, term := range sortedKeys(vocab) {
		b.WriteString(fmt.Sprintf("- %s: %s\n", term, strings.Join(vocab[term], ", ")))
	}
	return b.String()
}

func filledSection(filled map[string]any) string {
	keys := make([]string, 0, len(filled))
	for k := range filled {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %s: %v\n", k, filled[k]))
	}
	return b.String()
}

// renderHistory formats the last n messages. maxLen truncates each
// message when positive.
func renderHistory(history []llms.ChatMessage, n, maxLen int) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	msgs := make([]llms.ChatMessage, 0, len(history))
	for _, m := range history {
		content := m.GetContent()
		if maxLen > 0 && len(content) > maxLen {
			content = content[:maxLen]
		}
		switch m.GetType() {
		case llms.ChatMessageTypeAI:
			msgs = append(msgs, llms.AIChatMessage{Content: content})
		case llms.ChatMessageTypeSystem:
			msgs = append(msgs, llms.SystemChatMessage{Content: content})
		default:
			msgs = append(msgs, llms.HumanChatMessage{Content: content})
		}
	}
	out, err := llms.GetBufferString(msgs, "User", "Assistant")
	if err != nil {
		return ""
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ptr(f float64) *float64 { return &f }
