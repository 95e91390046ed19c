package runtime

import (
	"context"
	"testing"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pharmacyGame = `
name: pharmacy
capabilities: [check_stock]
moves:
  - id: stock
    threshold: 0.5
    triggers:
      - participant: user
        patterns:
          - text: "do you have {medication}"
    blocks:
      - kind: conditional
        actions:
          - type: capability
            service: inventory
            function: check_stock
          - type: respond
            text: "{medication} in stock: {in_stock?unknown}"
  - id: order
    threshold: 0.5
    triggers:
      - participant: user
        patterns:
          - text: "order {medication}"
    blocks:
      - kind: conditional
        actions:
          - type: capability
            service: inventory
            function: place_order
  - id: help
    threshold: 0.5
    triggers:
      - participant: user
        patterns:
          - text: "help with {topic}"
    blocks:
      - kind: if_chain
        chain:
          - condition: {kind: compare, ref: topic, op: "=", value: billing}
            actions:
              - type: escalate
                to: billing
          - actions:
              - type: offer_choices
                choices: [billing, shipping]
`

func pharmacy(t *testing.T) *game.CompiledGame {
	t.Helper()
	g, err := game.ParseYAML([]byte(pharmacyGame))
	require.NoError(t, err)
	return g
}

type stubExecutor struct {
	calls  []string
	params map[string]any
	result *CapabilityResult
}

func (s *stubExecutor) Execute(ctx context.Context, service, function string, params map[string]any) (*CapabilityResult, error) {
	s.calls = append(s.calls, service+"."+function)
	s.params = params
	return s.result, nil
}

func TestCapabilityWithoutExecutor(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, pharmacy(t), Deps{Sink: sink})

	resp, err := e.ProcessTurn(context.Background(), "c1", "u1", "do you have aspirin", nil)
	require.NoError(t, err)
	assert.Equal(t, "Capabilities not configured. aspirin in stock: unknown", resp.Response)
	require.Len(t, sink.items, 1)
	assert.Equal(t, models.OutcomeSuccess, sink.items[0].Outcome)
}

func TestCapabilityMergesData(t *testing.T) {
	exec := &stubExecutor{result: &CapabilityResult{Message: "Checked.", Data: map[string]any{"in_stock": true}}}
	e := newEngine(t, pharmacy(t), Deps{Executor: exec})

	resp, err := e.ProcessTurn(context.Background(), "c1", "u1", "do you have aspirin", nil)
	require.NoError(t, err)
	assert.Equal(t, "Checked. aspirin in stock: true", resp.Response)
	assert.Equal(t, []string{"inventory.check_stock"}, exec.calls)
	assert.Equal(t, map[string]any{"medication": "aspirin"}, exec.params)
	require.NotNil(t, resp.Action)
	assert.Equal(t, "check_stock", *resp.Action)
}

func TestCapabilityOutsideAllowlist(t *testing.T) {
	exec := &stubExecutor{}
	sink := &recordingSink{}
	e := newEngine(t, pharmacy(t), Deps{Executor: exec, Sink: sink})

	resp, err := e.ProcessTurn(context.Background(), "c1", "u1", "order aspirin", nil)
	require.NoError(t, err)
	assert.Equal(t, "Not allowed.", resp.Response)
	assert.Empty(t, exec.calls)
	require.Len(t, sink.items, 1)
	assert.Equal(t, models.OutcomeFailure, sink.items[0].Outcome)
}

func TestIfChainRunsFirstMatchingLink(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, pharmacy(t), Deps{Sink: sink})
	ctx := context.Background()

	resp, err := e.ProcessTurn(ctx, "c1", "u1", "help with billing", nil)
	require.NoError(t, err)
	assert.Equal(t, "Escalating to billing", resp.Response)
	require.NotNil(t, resp.Action)
	assert.Equal(t, "escalate", *resp.Action)
	assert.Equal(t, models.ActionEscalate, sink.items[0].ActionTaken)

	resp, err = e.ProcessTurn(ctx, "c2", "u1", "help with shipping", nil)
	require.NoError(t, err)
	assert.Equal(t, "Options: billing, shipping", resp.Response)
	assert.Nil(t, resp.Action)
}

func TestEmptyAllowlistPermitsAll(t *testing.T) {
	g := pharmacy(t)
	g.Capabilities = nil
	exec := &stubExecutor{result: &CapabilityResult{Message: "Ordered."}}
	e := newEngine(t, g, Deps{Executor: exec})

	resp, err := e.ProcessTurn(context.Background(), "c1", "u1", "order aspirin", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ordered.", resp.Response)
	assert.Equal(t, []string{"inventory.place_order"}, exec.calls)
}
