package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/matcher"
	"github.com/avvvet/lgdl-runtime/internal/models"
)

// ErrNoClarifyAction means the move has no clarification action in its
// low-confidence branch, so negotiation cannot run.
var ErrNoClarifyAction = errors.New("move defines no clarification action")

const (
	ReasonThresholdMet      = "threshold_met"
	ReasonNoInformationGain = "no_information_gain"
	ReasonMaxRounds         = "max_rounds_exceeded"
	ReasonTimeout           = "clarification_timeout"
	ReasonUnavailable       = "clarification_unavailable"
)

const (
	DefaultMaxRounds = 3
	DefaultEpsilon   = 0.05

	maxEnrichedLen   = 2048
	stagnationRounds = 2
	defaultParamName = "clarification"
)

// AskFunc poses a clarification question and waits for the answer. It
// must honor ctx cancellation.
type AskFunc func(ctx context.Context, question string, options []string) (string, error)

// Matcher re-scores input during negotiation.
type Matcher interface {
	Match(ctx context.Context, text string, g *game.CompiledGame, mc *matcher.MatchingContext) matcher.MatchResult
}

type Round struct {
	N        int
	Question string
	Response string
	Params   map[string]any
	Before   float64
	After    float64
}

func (r Round) Delta() float64 { return r.After - r.Before }

type Result struct {
	Success         bool
	Rounds          []Round
	FinalConfidence float64
	FinalParams     map[string]any
	Reason          string
	Match           matcher.MatchResult
}

// Loop runs the bounded clarification protocol.
type Loop struct {
	MaxRounds int
	Epsilon   float64
	// Timeout bounds each question. Zero leaves it to the caller's ctx.
	Timeout time.Duration
}

func New(maxRounds int, epsilon float64, timeout time.Duration) *Loop {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if epsilon < 0 {
		epsilon = DefaultEpsilon
	}
	return &Loop{MaxRounds: maxRounds, Epsilon: epsilon, Timeout: timeout}
}

// ClarifyUntilConfident asks the move's clarification question until the
// re-matched confidence reaches the move threshold, confidence stops
// improving, or the round budget runs out.
func (l *Loop) ClarifyUntilConfident(
	ctx context.Context,
	move *game.Move,
	input string,
	initial matcher.MatchResult,
	m Matcher,
	g *game.CompiledGame,
	mc *matcher.MatchingContext,
	ask AskFunc,
) (*Result, error) {
	action, ok := move.ClarifyAction()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoClarifyAction, move.ID)
	}

	params := copyParams(initial.Params)
	result := &Result{
		FinalConfidence: initial.Score,
		FinalParams:     params,
		Match:           initial,
	}
	if initial.Score >= move.Threshold {
		result.Success = true
		result.Reason = ReasonThresholdMet
		return result, nil
	}

	paramName := action.ParamName
	if paramName == "" {
		paramName = defaultParamName
	}
	question := action.Question
	if question == "" {
		question = "Could you tell me more?"
	}

	scoped := scopedGame(g, move)
	local := cloneContext(mc, g)
	order := sortedKeys(params)
	current := initial.Score
	stagnant := 0

	for n := 1; n <= l.MaxRounds; n++ {
		answer, err := l.ask(ctx, ask, question, action.Options)
		if err != nil {
			result.Reason = ReasonUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				result.Reason = ReasonTimeout
			}
			log.Printf("[Negotiation R%d] no answer: %v", n, err)
			return result, nil
		}

		if _, seen := params[paramName]; !seen {
			order = append(order, paramName)
		}
		params[paramName] = answer
		local.AddTurn("assistant", question)
		local.AddTurn("user", answer)
		local.LastQuestion = question

		enriched := EnrichInput(input, order, params)
		rematch := m.Match(ctx, enriched, scoped, local)
		after := 0.0
		if rematch.Move != nil {
			after = rematch.Score
			for k, v := range rematch.Params {
				if _, explicit := params[k]; !explicit {
					order = append(order, k)
					params[k] = v
				}
			}
		}

		round := Round{N: n, Question: question, Response: answer, Params: copyParams(params), Before: current, After: after}
		result.Rounds = append(result.Rounds, round)
		log.Printf("[Negotiation R%d] %.2f → %.2f (Δ%+.2f)", n, round.Before, round.After, round.Delta())

		result.FinalConfidence = after
		result.FinalParams = params
		if rematch.Move != nil {
			rematch.Params = params
			result.Match = rematch
		}

		if after >= move.Threshold {
			result.Success = true
			result.Reason = ReasonThresholdMet
			return result, nil
		}

		delta := after - current
		switch {
		case delta < 0:
			stagnant = 0
		case delta < l.Epsilon:
			stagnant++
			if stagnant >= stagnationRounds {
				result.Reason = ReasonNoInformationGain
				return result, nil
			}
		default:
			stagnant = 0
		}
		current = after
	}

	result.Reason = ReasonMaxRounds
	return result, nil
}

func (l *Loop) ask(ctx context.Context, ask AskFunc, question string, options []string) (string, error) {
	if ask == nil {
		return "", errors.New("no clarification channel")
	}
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	type reply struct {
		answer string
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		a, err := ask(ctx, question, options)
		done <- reply{a, err}
	}()

	select {
	case r := <-done:
		return strings.TrimSpace(r.answer), r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// EnrichInput appends the values of params, in order, that the input does
// not already mention. The result is whitespace-normalized and capped.
func EnrichInput(input string, order []string, params map[string]any) string {
	var b strings.Builder
	b.WriteString(input)
	for _, k := range order {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" || strings.Contains(strings.ToLower(b.String()), strings.ToLower(s)) {
			continue
		}
		b.WriteString(" ")
		b.WriteString(s)
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if len(out) > maxEnrichedLen {
		cut := maxEnrichedLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.TrimSpace(out[:cut])
	}
	return out
}

// Manifest renders the result the way it is reported to callers.
func (r *Result) Manifest() *models.NegotiationManifest {
	m := &models.NegotiationManifest{
		Enabled:         true,
		Rounds:          make([]models.NegotiationEntry, 0, len(r.Rounds)),
		FinalConfidence: round3(r.FinalConfidence),
		Reason:          r.Reason,
	}
	for _, rd := range r.Rounds {
		m.Rounds = append(m.Rounds, models.NegotiationEntry{
			N:      rd.N,
			Q:      rd.Question,
			A:      rd.Response,
			Before: round3(rd.Before),
			After:  round3(rd.After),
			Delta:  round3(rd.Delta()),
		})
	}
	return m
}

// FailureMessage is the apology returned when negotiation gives up.
func (r *Result) FailureMessage() string {
	return fmt.Sprintf("I wasn't able to understand after %d clarifications.", len(r.Rounds))
}

func scopedGame(g *game.CompiledGame, move *game.Move) *game.CompiledGame {
	scoped := &game.CompiledGame{Moves: []*game.Move{move}}
	if g != nil {
		scoped.Name = g.Name
		scoped.Description = g.Description
		scoped.Vocabulary = g.Vocabulary
		scoped.Capabilities = g.Capabilities
	}
	return scoped
}

func cloneContext(mc *matcher.MatchingContext, g *game.CompiledGame) *matcher.MatchingContext {
	if mc == nil {
		return matcher.NewMatchingContext(g)
	}
	c := *mc
	c.History = append(c.History[:0:0], mc.History...)
	return &c
}

func copyParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sortedKeys(p map[string]any) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
