// Package runtime runs one dialogue turn end to end: sanitize, route,
// negotiate, fill slots, execute the chosen branch, persist.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/avvvet/lgdl-runtime/internal/conversation"
	"github.com/avvvet/lgdl-runtime/internal/firewall"
	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/matcher"
	"github.com/avvvet/lgdl-runtime/internal/memory"
	"github.com/avvvet/lgdl-runtime/internal/metrics"
	"github.com/avvvet/lgdl-runtime/internal/models"
	"github.com/avvvet/lgdl-runtime/internal/negotiation"
	"github.com/avvvet/lgdl-runtime/internal/slots"
	"github.com/google/uuid"
)

// NoMatchResponse is returned when no move applies.
const NoMatchResponse = "Sorry, I didn't catch that."

// StageAwaitingSlot marks turns routed straight to a move waiting for a
// slot answer.
const StageAwaitingSlot matcher.Stage = "awaiting_slot"

var ErrInvalidEngine = errors.New("engine needs a compiled game and a matcher")

// Clarifier asks the user a question in the middle of a turn.
type Clarifier interface {
	Ask(ctx context.Context, conversationID, question string, options []string) (string, error)
}

// InteractionSink receives one record per finished turn.
type InteractionSink interface {
	Record(ctx context.Context, interaction *models.Interaction) error
}

type Deps struct {
	// Matcher is required.
	Matcher     negotiation.Matcher
	Negotiation *negotiation.Loop
	// Slots defaults to a manager over State, or process memory.
	Slots     *slots.Manager
	State     *memory.Manager
	Clarifier Clarifier
	Executor  Executor
	Sink      InteractionSink
	Metrics   *metrics.Metrics
}

type Options struct {
	NegotiationEnabled bool
	// LexicalThreshold gates the awaiting-slot escape hatch.
	LexicalThreshold float64
}

// Engine is safe for concurrent use. Turns for one conversation run one at
// a time in the order ProcessTurn was called; different conversations never
// wait on each other.
type Engine struct {
	game        *game.CompiledGame
	matcher     negotiation.Matcher
	negotiation *negotiation.Loop
	slots       *slots.Manager
	state       *memory.Manager
	clarifier   Clarifier
	executor    Executor
	sink        InteractionSink
	metrics     *metrics.Metrics
	opts        Options

	locks *turnLocks
}

func New(g *game.CompiledGame, deps Deps, opts Options) (*Engine, error) {
	if g == nil || deps.Matcher == nil {
		return nil, ErrInvalidEngine
	}
	if deps.Negotiation == nil {
		deps.Negotiation = negotiation.New(negotiation.DefaultMaxRounds, negotiation.DefaultEpsilon, 0)
	}
	if deps.Slots == nil {
		var store slots.Store
		if deps.State != nil {
			store = deps.State
		}
		deps.Slots = slots.NewManager(store, nil)
	}
	if opts.LexicalThreshold <= 0 {
		opts.LexicalThreshold = 0.75
	}
	return &Engine{
		game:        g,
		matcher:     deps.Matcher,
		negotiation: deps.Negotiation,
		slots:       deps.Slots,
		state:       deps.State,
		clarifier:   deps.Clarifier,
		executor:    deps.Executor,
		sink:        deps.Sink,
		metrics:     deps.Metrics,
		opts:        opts,
		locks:       newTurnLocks(),
	}, nil
}

// Game returns the compiled game the engine serves.
func (e *Engine) Game() *game.CompiledGame { return e.game }

// State returns the state manager, or nil when state is disabled.
func (e *Engine) State() *memory.Manager { return e.state }

// turn carries one ProcessTurn through its stages. matchText is the
// cleaned input, rewritten when it answers an open question.
type turn struct {
	conversationID string
	input          string
	cleaned        string
	matchText      string
	flagged        bool
	start          time.Time

	state *memory.PersistentState
	mc    *matcher.MatchingContext

	match  matcher.MatchResult
	params map[string]any
	neg    *negotiation.Result

	resp    *models.TurnResponse
	action  string
	outcome string
}

// ProcessTurn handles one user utterance. Matching and extraction
// failures degrade inside the turn; only storage errors, and ctx ending
// while the turn waits for its conversation, are returned.
func (e *Engine) ProcessTurn(ctx context.Context, conversationID, userID, text string, turnContext map[string]any) (*models.TurnResponse, error) {
	unlock, err := e.locks.acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t := &turn{conversationID: conversationID, input: text, start: time.Now()}
	t.cleaned, t.flagged = firewall.Sanitize(text)
	if t.flagged {
		log.Printf("[Firewall] sanitized input for %s", conversationID)
	}

	if e.state != nil {
		state, err := e.state.GetOrCreate(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		t.state = state
		if state.AwaitingResponse {
			if _, err := e.state.ClearAwaitingResponse(ctx, conversationID); err != nil {
				return nil, err
			}
		}
	}
	t.matchText = t.cleaned
	if en := conversation.Enrich(t.cleaned, t.state); en.Applied {
		log.Printf("[Context] %s: %q reads as %q", conversationID, t.cleaned, en.Enriched)
		t.matchText = en.Enriched
	}
	t.mc = e.matchingContext(t.state, turnContext)

	if err := e.route(ctx, t); err != nil {
		return nil, err
	}
	if t.resp == nil {
		if err := e.execute(ctx, t); err != nil {
			return nil, err
		}
	}
	return e.finish(ctx, t)
}

// route picks the move: the awaiting-slot shortcut when it holds,
// otherwise the cascade. It may settle the response itself.
func (e *Engine) route(ctx context.Context, t *turn) error {
	if t.state != nil && t.state.AwaitingSlotName != "" {
		if mv := e.game.Move(t.state.AwaitingSlotMove); mv != nil {
			done, err := e.awaitingSlot(ctx, t, mv)
			if err != nil || done {
				return err
			}
		} else {
			log.Printf("[Slot] awaiting move %s no longer exists, clearing", t.state.AwaitingSlotMove)
			if err := e.state.ClearAwaitingSlot(ctx, t.conversationID); err != nil {
				return err
			}
		}
		if t.match.Move != nil {
			return e.afterMatch(ctx, t)
		}
	}

	t.match = e.matcher.Match(ctx, t.matchText, e.game, t.mc)
	log.Printf("[Cascade] %s -> %s", t.conversationID, t.match)
	return e.afterMatch(ctx, t)
}

// awaitingSlot answers the pending slot at confidence 1.0. When the answer
// fails and the input lexically matches another move, it leaves t.match
// set to that move and reports false.
func (e *Engine) awaitingSlot(ctx context.Context, t *turn, mv *game.Move) (bool, error) {
	awaiting := t.state.AwaitingSlotName
	fill, err := e.slots.Process(ctx, t.conversationID, mv, t.cleaned, nil, awaiting, e.extractionContext(t))
	if err != nil {
		return false, err
	}

	if !fill.AwaitedFilled {
		alt := e.matcher.Match(ctx, t.cleaned, e.game, t.mc)
		if alt.Move != nil && alt.Move.ID != mv.ID && alt.Stage == matcher.StageLexical && alt.Score >= e.opts.LexicalThreshold {
			log.Printf("[Slot] %s answer matched %s instead, leaving %s", awaiting, alt, mv.ID)
			if err := e.state.ClearAwaitingSlot(ctx, t.conversationID); err != nil {
				return false, err
			}
			t.match = alt
			return false, nil
		}
	}

	t.match = matcher.MatchResult{Move: mv, Score: 1.0, Params: map[string]any{}, Stage: StageAwaitingSlot}
	t.params = map[string]any{}
	return true, e.applyFill(ctx, t, mv, fill)
}

// afterMatch applies the no-match rule, negotiation and slot filling.
func (e *Engine) afterMatch(ctx context.Context, t *turn) error {
	mv := t.match.Move
	if mv == nil || (t.match.Score < mv.Threshold && !hasUncertainBranch(mv)) {
		e.noMatch(t)
		return nil
	}
	t.params = copyParams(t.match.Params)

	if e.opts.NegotiationEnabled && e.clarifier != nil && t.match.Score < mv.Threshold {
		if err := e.negotiate(ctx, t, mv); err != nil {
			return err
		}
		if t.resp != nil {
			return nil
		}
	}

	if len(mv.Slots) > 0 {
		fill, err := e.slots.Process(ctx, t.conversationID, mv, t.cleaned, t.params, "", e.extractionContext(t))
		if err != nil {
			return err
		}
		return e.applyFill(ctx, t, mv, fill)
	}
	return nil
}

func (e *Engine) negotiate(ctx context.Context, t *turn, mv *game.Move) error {
	ask := func(ctx context.Context, question string, options []string) (string, error) {
		return e.clarifier.Ask(ctx, t.conversationID, question, options)
	}
	res, err := e.negotiation.ClarifyUntilConfident(ctx, mv, t.matchText, t.match, e.matcher, e.game, t.mc, ask)
	if errors.Is(err, negotiation.ErrNoClarifyAction) {
		log.Printf("[Negotiation] skipped: %v", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("negotiation: %w", err)
	}

	t.neg = res
	e.metrics.ObserveNegotiation(res.Reason, len(res.Rounds))
	if res.Success {
		log.Printf("[Negotiation] ✓ %s", res.Reason)
		t.match = res.Match
		t.match.Score = res.FinalConfidence
		t.params = copyParams(res.FinalParams)
		return nil
	}

	log.Printf("[Negotiation] ✗ %s", res.Reason)
	t.match.Score = res.FinalConfidence
	t.params = copyParams(res.FinalParams)
	t.resp = e.response(t, res.FailureMessage(), "")
	t.action, t.outcome = models.ActionNegotiate, models.OutcomeFailure
	return nil
}

// applyFill turns a slot-filling outcome into either the next prompt or
// the move's completion actions.
func (e *Engine) applyFill(ctx context.Context, t *turn, mv *game.Move, fill *slots.FillOutcome) error {
	if !fill.Complete {
		if e.state != nil {
			if err := e.state.SetAwaitingSlot(ctx, t.conversationID, mv.ID, fill.Next); err != nil {
				return err
			}
		}
		t.resp = e.response(t, fill.Prompt, "")
		t.resp.AwaitingSlot = fill.Next
		t.action, t.outcome = models.ActionSlotFill, models.OutcomePending
		return nil
	}

	for k, v := range fill.Values {
		t.params[k] = v
	}
	if e.state != nil && t.state.AwaitingSlotName != "" {
		if err := e.state.ClearAwaitingSlot(ctx, t.conversationID); err != nil {
			return err
		}
	}

	out, ok := e.runSlotsFilled(ctx, mv, t.params)
	if err := e.slots.Clear(ctx, t.conversationID, mv.ID); err != nil {
		return err
	}
	if !ok {
		// No completion block: fall through to the regular branches.
		return nil
	}
	t.resp = e.response(t, out.response(), out.action)
	t.resp.SlotsFilled = fill.Values
	t.action, t.outcome = actionOutcome(out)
	return nil
}

// execute runs the move's branches for a turn that was not settled while
// routing.
func (e *Engine) execute(ctx context.Context, t *turn) error {
	mv := t.match.Move
	out := e.runBlocks(ctx, mv, t.match.Score, t.params)
	t.resp = e.response(t, out.response(), out.action)
	t.action, t.outcome = actionOutcome(out)

	if e.state == nil {
		return nil
	}
	question := out.question
	if question == "" {
		question = conversation.ParseResponse(out.response()).Primary
	}
	if question != "" {
		if err := e.state.SetAwaitingResponse(ctx, t.conversationID, question); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) noMatch(t *turn) {
	t.match.Score = 0
	if t.match.Move != nil {
		log.Printf("[Cascade] %s below threshold %.2f, treating as no match", t.match, t.match.Move.Threshold)
		t.match.Move = nil
	}
	t.match.Stage = matcher.StageNone
	t.params = map[string]any{}
	t.resp = e.response(t, NoMatchResponse, "")
	t.action, t.outcome = models.ActionRespond, models.OutcomeFailure
}

func (e *Engine) response(t *turn, text, action string) *models.TurnResponse {
	resp := &models.TurnResponse{
		ConversationID:    t.conversationID,
		MoveID:            t.match.MoveID(),
		Confidence:        t.match.Score,
		Response:          text,
		ManifestID:        uuid.NewString(),
		FirewallTriggered: t.flagged,
		Stage:             string(t.match.Stage),
	}
	if action != "" {
		resp.Action = &action
	}
	if len(t.params) > 0 {
		resp.Params = t.params
	}
	if t.neg != nil {
		resp.Negotiation = t.neg.Manifest()
	}
	return resp
}

// finish persists the turn and reports it.
func (e *Engine) finish(ctx context.Context, t *turn) (*models.TurnResponse, error) {
	resp := t.resp
	confident := t.match.Move != nil && t.match.Score >= t.match.Move.Threshold

	if e.state != nil {
		matched := ""
		if t.match.Move != nil {
			matched = t.match.Move.ID
		}
		meta := map[string]any{
			"stage":              string(t.match.Stage),
			"pattern":            t.match.Pattern,
			"confident":          confident,
			"manifest_id":        resp.ManifestID,
			"firewall_triggered": t.flagged,
		}
		if t.matchText != t.cleaned {
			meta["enriched_input"] = t.matchText
		}
		_, err := e.state.Update(ctx, t.conversationID, memory.Turn{
			UserInput:       t.input,
			SanitizedInput:  t.cleaned,
			MatchedMove:     matched,
			Confidence:      t.match.Score,
			Response:        resp.Response,
			ExtractedParams: t.params,
			Metadata:        meta,
		}, nil)
		if err != nil {
			return nil, err
		}
	}

	e.record(ctx, t, confident)
	e.metrics.ObserveTurn(t.outcome, string(t.match.Stage), time.Since(t.start), t.flagged)
	return resp, nil
}

func (e *Engine) record(ctx context.Context, t *turn, confident bool) {
	if e.sink == nil {
		return
	}
	in := &models.Interaction{
		Timestamp:      time.Now().UTC(),
		ConversationID: t.conversationID,
		UserInput:      t.cleaned,
		MatchedPattern: t.match.Pattern,
		MatchedMove:    t.resp.MoveID,
		Confidence:     t.match.Score,
		ActionTaken:    t.action,
		Outcome:        t.outcome,
		Context:        t.params,
	}
	if t.neg != nil {
		in.NegotiationRounds = len(t.neg.Rounds)
		if t.neg.Success {
			in.FinalUnderstanding = EnrichedUnderstanding(t.cleaned, t.neg)
		}
	}
	if err := e.sink.Record(ctx, in); err != nil {
		log.Printf("⚠️ Failed to record interaction for %s: %v", t.conversationID, err)
	}
}

// EnrichedUnderstanding is the input as the engine finally understood it.
func EnrichedUnderstanding(input string, res *negotiation.Result) string {
	keys := make([]string, 0, len(res.FinalParams))
	for k := range res.FinalParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return negotiation.EnrichInput(input, keys, res.FinalParams)
}

func (e *Engine) matchingContext(state *memory.PersistentState, turnContext map[string]any) *matcher.MatchingContext {
	mc := matcher.NewMatchingContext(e.game)
	for k, v := range turnContext {
		mc.FilledSlots[k] = v
	}
	if state == nil {
		return mc
	}
	mc.History = memory.History(state, matcher.HistoryWindow)
	if state.AwaitingResponse {
		mc.LastQuestion = state.LastQuestion
	}
	for k, v := range state.ExtractedContext {
		mc.FilledSlots[k] = v
	}
	mc.CurrentMove = state.AwaitingSlotMove
	for _, tr := range state.RecentTurns(20) {
		if ok, _ := tr.Metadata["confident"].(bool); !ok {
			continue
		}
		if p, _ := tr.Metadata["pattern"].(string); p != "" {
			mc.AddSuccessfulPattern(p)
		}
	}
	return mc
}

func (e *Engine) extractionContext(t *turn) slots.ExtractionContext {
	return slots.ExtractionContext{History: t.mc.History}
}

func actionOutcome(out *outcome) (string, string) {
	action := models.ActionRespond
	if out.action == "escalate" {
		action = models.ActionEscalate
	}
	if out.status == statusErr {
		return action, models.OutcomeFailure
	}
	return action, models.OutcomeSuccess
}

// hasUncertainBranch reports whether mv has anything to do below its
// threshold.
func hasUncertainBranch(mv *game.Move) bool {
	for _, b := range mv.Blocks {
		switch b.Kind {
		case game.BlockConditional:
			if mentionsUncertain(b.Condition) {
				return true
			}
		case game.BlockIfChain:
			for _, l := range b.Chain {
				if mentionsUncertain(l.Condition) {
					return true
				}
			}
		}
	}
	return false
}

func mentionsUncertain(c *game.Condition) bool {
	if c == nil {
		return false
	}
	if c.Kind == game.CondSpecial && c.Special == game.SpecialUncertain {
		return true
	}
	return mentionsUncertain(c.Left) || mentionsUncertain(c.Right) || mentionsUncertain(c.Operand)
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
