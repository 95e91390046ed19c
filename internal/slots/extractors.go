package slots

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/llm"
	"github.com/avvvet/lgdl-runtime/internal/prompts"
	"github.com/tmc/langchaingo/llms"
)

// ErrSemanticRequired is returned when semantic extraction is enabled
// without an LLM client.
var ErrSemanticRequired = errors.New("semantic slot extraction enabled but no LLM client configured")

// Strategy labels reported in ExtractionResult.Strategy.
const (
	StrategyRegex          = "regex"
	StrategySemantic       = "semantic"
	StrategyHybridRegex    = "hybrid(regex)"
	StrategyHybridSemantic = "hybrid(semantic)"
)

// hybridAccept is the regex confidence at which hybrid skips the LLM.
const hybridAccept = 0.7

// semanticMaxTokens bounds the extraction completion.
const semanticMaxTokens = 150

type ExtractionResult struct {
	Success      bool
	Value        any
	Confidence   float64
	Strategy     string
	Reasoning    string
	Alternatives []string
}

// ExtractionContext is the conversation state visible to extractors.
type ExtractionContext struct {
	History     []llms.ChatMessage
	FilledSlots map[string]any
}

type Extractor interface {
	Extract(ctx context.Context, input string, def game.SlotDefinition, ec ExtractionContext) ExtractionResult
}

var timeframeRe = regexp.MustCompile(`(\d+)\s*(hour|day|week|month|year)`)

var timeframeHints = []string{
	"yesterday", "today", "this morning", "last night",
	"this week", "last week", "ago", "recently", "just now",
}

// RegexExtractor is the deterministic default strategy.
type RegexExtractor struct{}

func (RegexExtractor) Extract(ctx context.Context, input string, def game.SlotDefinition, ec ExtractionContext) ExtractionResult {
	text := strings.TrimSpace(input)
	switch def.Type {
	case game.SlotNumber, game.SlotRange:
		return extractNumber(text, def)
	case game.SlotEnum:
		return extractEnum(text, def)
	case game.SlotDate:
		return extractDate(text)
	case game.SlotTimeframe:
		return extractTimeframe(text)
	default:
		return ExtractionResult{Success: true, Value: text, Confidence: 0.9, Strategy: StrategyRegex}
	}
}

func extractNumber(text string, def game.SlotDefinition) ExtractionResult {
	m := numberRe.FindString(text)
	if m == "" {
		return ExtractionResult{Strategy: StrategyRegex, Reasoning: "No number found in input"}
	}
	n, _ := parseNumber(m)
	if def.Type == game.SlotRange {
		if def.Min != nil && n < *def.Min {
			return ExtractionResult{Value: n, Strategy: StrategyRegex, Reasoning: fmt.Sprintf("Value %g below minimum %g", n, *def.Min)}
		}
		if def.Max != nil && n > *def.Max {
			return ExtractionResult{Value: n, Strategy: StrategyRegex, Reasoning: fmt.Sprintf("Value %g above maximum %g", n, *def.Max)}
		}
	}
	return ExtractionResult{Success: true, Value: n, Confidence: 0.9, Strategy: StrategyRegex}
}

func extractEnum(text string, def game.SlotDefinition) ExtractionResult {
	if len(def.EnumValues) == 0 {
		return ExtractionResult{Success: true, Value: text, Confidence: 0.5, Strategy: StrategyRegex}
	}
	lower := strings.ToLower(text)
	for _, v := range def.EnumValues {
		if strings.ToLower(v) == lower {
			return ExtractionResult{Success: true, Value: v, Confidence: 1.0, Strategy: StrategyRegex}
		}
	}
	if v, ok := matchEnum(def.EnumValues, text); ok {
		return ExtractionResult{Success: true, Value: v, Confidence: 0.8, Strategy: StrategyRegex}
	}
	return ExtractionResult{
		Strategy:  StrategyRegex,
		Reasoning: fmt.Sprintf("No match for enum values: %s", strings.Join(def.EnumValues, ", ")),
	}
}

func extractDate(text string) ExtractionResult {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if iso, ok := buildDate(m[1], m[2], m[3]); ok {
			return ExtractionResult{Success: true, Value: iso, Confidence: 0.95, Strategy: StrategyRegex}
		}
	}
	if m := usDateRe.FindStringSubmatch(text); m != nil && len(m[3]) == 4 {
		if iso, ok := buildDate(m[3], m[1], m[2]); ok {
			return ExtractionResult{Success: true, Value: iso, Confidence: 0.85, Strategy: StrategyRegex}
		}
	}
	// Unrecognized text is accepted here and rejected by Validate.
	return ExtractionResult{Success: true, Value: text, Confidence: 0.3, Strategy: StrategyRegex, Reasoning: "Date format not recognized, using raw text"}
}

func extractTimeframe(text string) ExtractionResult {
	lower := strings.ToLower(text)
	if m := timeframeRe.FindStringSubmatch(lower); m != nil {
		return ExtractionResult{Success: true, Value: m[1] + " " + m[2] + "s", Confidence: 0.9, Strategy: StrategyRegex}
	}
	for _, h := range timeframeHints {
		if strings.Contains(lower, h) {
			return ExtractionResult{Success: true, Value: text, Confidence: 0.7, Strategy: StrategyRegex}
		}
	}
	return ExtractionResult{Success: true, Value: text, Confidence: 0.5, Strategy: StrategyRegex}
}

// SemanticExtractor asks the LLM for the value, guided by the slot's
// vocabulary and context.
type SemanticExtractor struct {
	client llm.Client
}

func NewSemanticExtractor(client llm.Client) *SemanticExtractor {
	return &SemanticExtractor{client: client}
}

func (s *SemanticExtractor) Extract(ctx context.Context, input string, def game.SlotDefinition, ec ExtractionContext) ExtractionResult {
	prompt := prompts.BuildSlotPrompt(prompts.SlotInput{
		Slot:        def,
		Text:        input,
		History:     ec.History,
		FilledSlots: ec.FilledSlots,
	})

	res, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Prompt:      prompt,
		Schema:      prompts.SlotSchema(def),
		MaxTokens:   semanticMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return ExtractionResult{Strategy: StrategySemantic, Reasoning: fmt.Sprintf("LLM extraction error: %v", err)}
	}

	raw := res.Content["value"]
	out := ExtractionResult{
		Value:        raw,
		Confidence:   res.Float("confidence"),
		Strategy:     StrategySemantic,
		Reasoning:    res.String("reasoning"),
		Alternatives: res.Strings("alternatives"),
	}
	if v, ok := Validate(def, raw); ok {
		out.Success = true
		out.Value = v
	}
	return out
}

// HybridExtractor runs regex first and falls back to the LLM when regex
// is unsure.
type HybridExtractor struct {
	regex    Extractor
	semantic Extractor
}

func NewHybridExtractor(regex, semantic Extractor) *HybridExtractor {
	return &HybridExtractor{regex: regex, semantic: semantic}
}

func (h *HybridExtractor) Extract(ctx context.Context, input string, def game.SlotDefinition, ec ExtractionContext) ExtractionResult {
	r := h.regex.Extract(ctx, input, def, ec)
	if r.Success && r.Confidence >= hybridAccept {
		r.Strategy = StrategyHybridRegex
		return r
	}

	s := h.semantic.Extract(ctx, input, def, ec)
	if s.Success && (!r.Success || s.Confidence > r.Confidence) {
		s.Strategy = StrategyHybridSemantic
		return s
	}
	r.Strategy = StrategyHybridRegex
	return r
}

// Engine routes each slot to its declared strategy.
type Engine struct {
	regex    Extractor
	semantic Extractor
	hybrid   Extractor
}

// NewEngine builds the router. With semantic disabled, semantic and hybrid
// slots fall back to regex.
func NewEngine(client llm.Client, semanticEnabled bool) (*Engine, error) {
	e := &Engine{regex: RegexExtractor{}}
	if !semanticEnabled {
		return e, nil
	}
	if client == nil {
		return nil, ErrSemanticRequired
	}
	e.semantic = NewSemanticExtractor(client)
	e.hybrid = NewHybridExtractor(e.regex, e.semantic)
	return e, nil
}

func (e *Engine) Extract(ctx context.Context, input string, def game.SlotDefinition, ec ExtractionContext) ExtractionResult {
	var ex Extractor = e.regex
	switch def.Extraction {
	case game.ExtractSemantic:
		if e.semantic != nil {
			ex = e.semantic
		} else {
			log.Printf("[Slot] semantic extraction not configured, using regex for %s", def.Name)
		}
	case game.ExtractHybrid:
		if e.hybrid != nil {
			ex = e.hybrid
		} else {
			log.Printf("[Slot] semantic extraction not configured, using regex for %s", def.Name)
		}
	}
	return ex.Extract(ctx, input, def, ec)
}
