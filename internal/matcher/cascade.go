package matcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/embedding"
	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/llm"
	"github.com/avvvet/lgdl-runtime/internal/prompts"
)

// Stage names the cascade tier that produced a result.
type Stage string

const (
	StageLexical   Stage = "lexical"
	StageEmbedding Stage = "embedding"
	StageLLM       Stage = "llm"
	StageNone      Stage = "none"
)

const (
	// LexicalConfidence is the score of a plain pattern hit.
	LexicalConfidence = 0.85
	// StrictConfidence is the floor for patterns marked strict.
	StrictConfidence = 0.92
	// llmGate: the LLM stage only runs when the best score is below it.
	llmGate = 0.85
	// llmEarlyExit stops scanning moves once the LLM is this confident.
	llmEarlyExit = 0.90
)

// ErrLLMRequired is returned when the LLM stage is enabled without a client.
var ErrLLMRequired = errors.New("LLM matching enabled but no LLM client configured")

// MatchResult is one match attempt. Move is nil when nothing scored.
type MatchResult struct {
	Move      *game.Move
	Score     float64
	Params    map[string]any
	Stage     Stage
	Pattern   string
	Reasoning string
	// Cost is the LLM spend of this attempt in dollars.
	Cost float64
}

// MoveID returns the matched move id or "none".
func (r MatchResult) MoveID() string {
	if r.Move == nil {
		return "none"
	}
	return r.Move.ID
}

// Embedder returns similarity vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Options struct {
	LexicalThreshold   float64
	EmbeddingThreshold float64
	EnableLLM          bool
	MaxCostPerTurn     float64
	LLMMaxTokens       int
	LLMTemperature     float64
}

// CascadeMatcher scores moves lexically, then by embedding similarity,
// then with an LLM, stopping at the first stage that is confident.
type CascadeMatcher struct {
	embedder Embedder
	llm      llm.Client
	opts     Options
}

// NewCascade builds the matcher. embedder may be nil to skip the embedding
// stage; llm must be set when opts.EnableLLM is true.
func NewCascade(embedder Embedder, client llm.Client, opts Options) (*CascadeMatcher, error) {
	if opts.EnableLLM && client == nil {
		return nil, ErrLLMRequired
	}
	if opts.LLMMaxTokens <= 0 {
		opts.LLMMaxTokens = 100
	}
	return &CascadeMatcher{
		embedder: embedder,
		llm:      client,
		opts:     opts,
	}, nil
}

// Match never fails: stage errors are logged and score zero.
func (c *CascadeMatcher) Match(ctx context.Context, text string, g *game.CompiledGame, mc *MatchingContext) MatchResult {
	best := MatchResult{Stage: StageNone, Params: map[string]any{}}
	if g == nil || len(g.Moves) == 0 {
		return best
	}

	// Stage 1: lexical. Captures are remembered per move so later stages
	// that pick the same move keep them.
	captured := make(map[string]map[string]any)
	for _, mv := range g.Moves {
		score, params, pattern := lexicalScore(text, mv)
		if score == 0 {
			continue
		}
		captured[mv.ID] = params
		if score > best.Score {
			best = MatchResult{Move: mv, Score: score, Params: params, Stage: StageLexical, Pattern: pattern}
		}
	}
	if best.Move != nil && best.Score >= c.opts.LexicalThreshold {
		return best
	}

	// Stage 2: embedding similarity.
	if c.embedder != nil {
		if res, ok := c.embeddingStage(ctx, text, g, captured); ok && res.Score > best.Score {
			best = res
		}
		if best.Stage == StageEmbedding && best.Score >= c.opts.EmbeddingThreshold {
			return best
		}
	}

	// Stage 3: LLM.
	if c.opts.EnableLLM && best.Score < llmGate {
		res, spent, ok := c.llmStage(ctx, text, g, mc, captured)
		if ok && res.Score > best.Score {
			best = res
		}
		best.Cost = spent
	}
	return best
}

// lexicalScore returns the best pattern hit for mv. Fuzzy patterns are
// left to the embedding stage.
func lexicalScore(text string, mv *game.Move) (float64, map[string]any, string) {
	var (
		best    float64
		params  map[string]any
		pattern string
	)
	for _, trig := range mv.Triggers {
		if !trig.Matchable() {
			continue
		}
		for i := range trig.Patterns {
			p := &trig.Patterns[i]
			if p.HasModifier("fuzzy") {
				continue
			}
			caps, ok := p.Match(text)
			if !ok {
				continue
			}
			score := LexicalConfidence
			if p.HasModifier("strict") {
				score = math.Max(StrictConfidence, score)
			}
			if score > best {
				best = score
				pattern = p.Text
				params = make(map[string]any, len(caps))
				for k, v := range caps {
					params[k] = v
				}
			}
		}
	}
	return best, params, pattern
}

func (c *CascadeMatcher) embeddingStage(ctx context.Context, text string, g *game.CompiledGame, captured map[string]map[string]any) (MatchResult, bool) {
	query, err := c.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[Cascade] embedding failed, skipping stage: %v", err)
		return MatchResult{}, false
	}

	var best MatchResult
	for _, mv := range g.Moves {
		for _, trig := range mv.Triggers {
			if !trig.Matchable() {
				continue
			}
			for _, p := range trig.Patterns {
				vec, err := c.embedder.Embed(ctx, patternPhrase(p.Text))
				if err != nil {
					log.Printf("[Cascade] embedding failed, skipping stage: %v", err)
					return MatchResult{}, false
				}
				score := SimilarityScore(embedding.Cosine(query, vec))
				if score > best.Score {
					best = MatchResult{Move: mv, Score: score, Params: paramsFor(captured, mv.ID), Stage: StageEmbedding, Pattern: p.Text}
				}
			}
		}
	}
	return best, best.Move != nil
}

func (c *CascadeMatcher) llmStage(ctx context.Context, text string, g *game.CompiledGame, mc *MatchingContext, captured map[string]map[string]any) (MatchResult, float64, bool) {
	if mc == nil {
		mc = NewMatchingContext(g)
	}

	var (
		best  MatchResult
		spent float64
	)
	for _, mv := range g.Moves {
		var patterns []string
		for _, trig := range mv.Triggers {
			for _, p := range trig.Patterns {
				patterns = append(patterns, p.Text)
			}
		}
		prompt := prompts.BuildMatchPrompt(prompts.MatchInput{
			GameName:           mc.GameName,
			GameDescription:    mc.GameDescription,
			MoveID:             mv.ID,
			Patterns:           patterns,
			Text:               text,
			Vocabulary:         mc.RelevantVocabulary(text),
			History:            mc.RecentHistory(HistoryWindow),
			SuccessfulPatterns: mc.SuccessfulPatterns,
			FilledSlots:        mc.FilledSlots,
			LastQuestion:       mc.LastQuestion,
		})

		if c.opts.MaxCostPerTurn > 0 {
			estimate := c.llm.EstimateCost(prompt, c.opts.LLMMaxTokens)
			if spent+estimate > c.opts.MaxCostPerTurn {
				log.Printf("[Cascade] %v: spent %.5f, next %.5f, limit %.5f", llm.ErrCostExceeded, spent, estimate, c.opts.MaxCostPerTurn)
				break
			}
		}

		res, err := c.llm.Complete(ctx, &llm.CompletionRequest{
			Prompt:      prompt,
			Schema:      prompts.MatchSchema,
			MaxTokens:   c.opts.LLMMaxTokens,
			Temperature: c.opts.LLMTemperature,
		})
		if err != nil {
			log.Printf("[Cascade] LLM scoring of %s failed: %v", mv.ID, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		spent += res.Cost

		score := clamp(res.Float("confidence"))
		if score > best.Score {
			best = MatchResult{
				Move:      mv,
				Score:     score,
				Params:    paramsFor(captured, mv.ID),
				Stage:     StageLLM,
				Pattern:   firstOr(patterns, ""),
				Reasoning: res.String("reasoning"),
			}
		}
		if score >= llmEarlyExit {
			break
		}
	}
	return best, spent, best.Move != nil
}

// SimilarityScore maps a cosine similarity onto [0,1].
func SimilarityScore(cos float64) float64 {
	return clamp(0.4 + 0.6*cos)
}

// patternPhrase turns "pain in my {location}" into "pain in my location".
func patternPhrase(text string) string {
	r := strings.NewReplacer("{", "", "}", "", "?", "", "*", "")
	return strings.Join(strings.Fields(r.Replace(text)), " ")
}

func paramsFor(captured map[string]map[string]any, moveID string) map[string]any {
	if p, ok := captured[moveID]; ok {
		return p
	}
	return map[string]any{}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstOr(s []string, def string) string {
	if len(s) > 0 {
		return s[0]
	}
	return def
}

func (r MatchResult) String() string {
	return fmt.Sprintf("%s@%.2f(%s)", r.MoveID(), r.Score, r.Stage)
}
