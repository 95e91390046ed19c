package runtime

import (
	"context"
	"log"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/templates"
)

// CapabilityResult is what an external capability call returns. Data is
// merged into the turn params for later templates.
type CapabilityResult struct {
	Message string
	Data    map[string]any
}

// Executor performs capability calls on behalf of a move.
type Executor interface {
	Execute(ctx context.Context, service, function string, params map[string]any) (*CapabilityResult, error)
}

// outcome accumulates what the executed branch produced.
type outcome struct {
	responses []string
	action    string
	status    string
	question  string
}

func (o *outcome) response() string {
	if len(o.responses) == 0 {
		return "OK."
	}
	return strings.Join(o.responses, " ")
}

// runBlocks executes the first block whose condition holds and nothing
// after it. slots_filled blocks are skipped here.
func (e *Engine) runBlocks(ctx context.Context, mv *game.Move, score float64, params map[string]any) *outcome {
	out := &outcome{status: statusOK}
	for _, b := range mv.Blocks {
		env := evalEnv{score: score, threshold: mv.Threshold, lastStatus: out.status, params: params}
		switch b.Kind {
		case game.BlockIfChain:
			for _, l := range b.Chain {
				if evalCondition(l.Condition, env) {
					e.runActions(ctx, l.Actions, params, out)
					return out
				}
			}
		case game.BlockConditional:
			if evalCondition(b.Condition, env) {
				e.runActions(ctx, b.Actions, params, out)
				return out
			}
		}
	}
	return out
}

// runSlotsFilled executes every slots_filled block of mv. It reports
// false when the move has none.
func (e *Engine) runSlotsFilled(ctx context.Context, mv *game.Move, params map[string]any) (*outcome, bool) {
	out := &outcome{status: statusOK}
	found := false
	for _, b := range mv.Blocks {
		if b.Kind != game.BlockSlotsFilled {
			continue
		}
		found = true
		e.runActions(ctx, b.Actions, params, out)
	}
	return out, found
}

func (e *Engine) runActions(ctx context.Context, actions []game.Action, params map[string]any, out *outcome) {
	for _, a := range actions {
		text, action, status := e.execAction(ctx, a, params)
		if text != "" {
			out.responses = append(out.responses, text)
		}
		if action != "" {
			out.action = action
		}
		if a.IsClarify() {
			out.question = a.Question
		}
		out.status = status
	}
}

func (e *Engine) execAction(ctx context.Context, a game.Action, params map[string]any) (string, string, string) {
	switch a.Kind {
	case game.ActionRespond:
		return templates.Render(a.Text, params), "", statusOK
	case game.ActionOfferChoices:
		return "Options: " + strings.Join(a.Choices, ", "), "", statusOK
	case game.ActionAskClarification, game.ActionClarify:
		return templates.Render(a.Question, params), string(a.Kind), statusOK
	case game.ActionCapability:
		return e.execCapability(ctx, a, params)
	case game.ActionEscalate:
		to := a.To
		if to == "" {
			to = "human"
		}
		return "Escalating to " + to, "escalate", statusOK
	}
	// continue, return
	return "", "", statusOK
}

func (e *Engine) execCapability(ctx context.Context, a game.Action, params map[string]any) (string, string, string) {
	if !e.allowed(a.Function) {
		log.Printf("[Capability] %s not in allowlist", a.Function)
		return "Not allowed.", "", statusErr
	}
	if e.executor == nil {
		return "Capabilities not configured.", "", statusErr
	}

	payload := make(map[string]any, len(params))
	for k, v := range params {
		if v != nil && !strings.HasPrefix(k, "_") {
			payload[k] = v
		}
	}
	res, err := e.executor.Execute(ctx, a.Service, a.Function, payload)
	if err != nil {
		log.Printf("[Capability] %s.%s failed: %v", a.Service, a.Function, err)
		return "", a.Function, statusErr
	}
	if res == nil {
		return "", a.Function, statusOK
	}
	for k, v := range res.Data {
		params[k] = v
	}
	return res.Message, a.Function, statusOK
}

// allowed checks the game's capability allowlist. An empty list allows
// every function.
func (e *Engine) allowed(function string) bool {
	if len(e.game.Capabilities) == 0 {
		return true
	}
	for _, f := range e.game.Capabilities {
		if f == function {
			return true
		}
	}
	return false
}
