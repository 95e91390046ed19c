// Package conversation rewrites follow-up answers into matchable utterances
// and spots the questions a reply leaves open.
package conversation

import (
	"fmt"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/memory"
)

// EnrichedInput is the user's text as the matcher should see it.
type EnrichedInput struct {
	Original    string
	Enriched    string
	ContextUsed map[string]any
	Applied     bool
}

// Enrich folds the pending question and the extracted context into input.
// Only answers to an open question are rewritten; a fresh utterance is
// matched as typed.
func Enrich(input string, state *memory.PersistentState) EnrichedInput {
	out := EnrichedInput{Original: input, Enriched: input, ContextUsed: map[string]any{}}
	if state == nil || !state.AwaitingResponse || state.LastQuestion == "" {
		return out
	}

	out.Enriched = withQuestion(input, state.LastQuestion, state.ExtractedContext)
	out.ContextUsed["last_question"] = state.LastQuestion

	if len(state.ExtractedContext) > 0 {
		out.Enriched = withExtracted(out.Enriched, state.ExtractedContext)
		out.ContextUsed["extracted_context"] = state.ExtractedContext
	}
	out.Applied = out.Enriched != input
	return out
}

func containsAny(s string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// withQuestion rewrites short answers using what was asked:
// "Where does it hurt?" + "My chest" reads as "pain in my chest".
func withQuestion(input, question string, extracted map[string]any) string {
	answer := strings.TrimSpace(input)
	lower := strings.ToLower(answer)
	q := strings.ToLower(question)

	if containsAny(q, "where", "location", "which part") && containsAny(q, "hurt", "pain") {
		if !strings.Contains(lower, "pain") {
			if strings.HasPrefix(lower, "my ") {
				answer = answer[3:]
			}
			return "pain in my " + answer
		}
	}

	if containsAny(q, "which doctor", "who", "which provider") {
		if !strings.Contains(lower, "dr") && !strings.Contains(lower, "doctor") {
			return "see doctor " + answer
		}
	}

	if containsAny(q, "when", "what time", "which day") {
		if strings.Contains(fmt.Sprint(extracted["intent"]), "appointment") {
			return "appointment on " + answer
		}
	}

	if containsAny(q, "how long", "when did", "how many") {
		if containsAny(lower, "hour", "day", "week", "minute") && !strings.Contains(lower, "started") {
			if strings.HasSuffix(lower, " ago") {
				return "started " + answer
			}
			return "started " + answer + " ago"
		}
	}
	return input
}

// withExtracted prefixes the symptom and severity already known, unless the
// input mentions them.
func withExtracted(input string, extracted map[string]any) string {
	lower := strings.ToLower(input)
	var parts []string

	if v, ok := extracted["symptom"]; ok && v != nil {
		if s := strings.ToLower(fmt.Sprint(v)); !strings.Contains(lower, s) {
			parts = append(parts, s)
		}
	}
	severity, ok := extracted["severity"]
	if !ok || severity == nil {
		severity, ok = extracted["level"]
	}
	if ok && severity != nil {
		if s := strings.ToLower(fmt.Sprint(severity)); !strings.Contains(lower, s) {
			parts = append(parts, s)
		}
	}

	if len(parts) == 0 {
		return input
	}
	return strings.Join(parts, " ") + " " + input
}
