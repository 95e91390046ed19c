package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/avvvet/lgdl-runtime/internal/app"
	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/avvvet/lgdl-runtime/internal/handlers"
	"github.com/avvvet/lgdl-runtime/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalSlotDialog(t *testing.T) {
	cfg := config.Default()
	cfg.GamePath = "../../internal/game/testdata/medical.json"
	cfg.StateDisabled = true

	input := strings.Join([]string{"I'm in pain", "", "My chest", "8", "about an hour ago", "/quit", "never read"}, "\n")
	var out bytes.Buffer
	term := newTerminal(strings.NewReader(input), &out)

	rt, err := app.Build(cfg, app.Hooks{Clarifier: term})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, term.run(context.Background(), handlers.NewTurnHandler(rt.Engine), "c1", true))

	text := out.String()
	assert.Contains(t, text, "bot> Where does it hurt?")
	assert.Contains(t, text, "bot> Thank you. Pain in your My chest, severity 8, started about an hour ago.")
	assert.Contains(t, text, "[pain_assessment 1.00 awaiting_slot]")
	assert.NotContains(t, text, "never read")
}

func TestTerminalAsk(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(strings.NewReader("Smith\n"), &out)

	answer, err := term.Ask(context.Background(), "c1", "Which doctor?", []string{"Smith", "Jones"})
	require.NoError(t, err)
	assert.Equal(t, "Smith", answer)
	assert.Contains(t, out.String(), "bot> Which doctor? [Smith / Jones]")

	_, err = term.Ask(context.Background(), "c1", "Again?", nil)
	assert.Error(t, err)
}

func TestPrintHistory(t *testing.T) {
	state := memory.NewState("c1")
	state.AddTurn(memory.Turn{TurnNum: 1, UserInput: "hello", Response: "Hi!", MatchedMove: "greeting", Confidence: 0.92})
	state.AddTurn(memory.Turn{TurnNum: 2, UserInput: "xyzzy", Response: "Sorry, I didn't catch that."})
	state.AwaitingSlotMove = "pain_assessment"
	state.AwaitingSlotName = "onset"

	var out bytes.Buffer
	printHistory(&out, state)

	text := out.String()
	assert.Contains(t, text, "conversation c1")
	assert.Contains(t, text, "  1  you> hello")
	assert.Contains(t, text, "bot> Hi!  [greeting 0.92]")
	assert.Contains(t, text, "[- 0.00]")
	assert.Contains(t, text, "awaiting onset for pain_assessment")
}
