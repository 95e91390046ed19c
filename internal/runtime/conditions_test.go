package runtime

import (
	"testing"

	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/stretchr/testify/assert"
)

func special(name string) *game.Condition {
	return &game.Condition{Kind: game.CondSpecial, Special: name}
}

func TestEvalCondition(t *testing.T) {
	env := evalEnv{
		score:      0.7,
		threshold:  0.8,
		lastStatus: statusOK,
		params: map[string]any{
			"severity": 8.0,
			"location": "Chest",
			"patient":  map[string]any{"age": "42"},
			"empty":    "",
		},
	}

	tests := []struct {
		name string
		cond *game.Condition
		want bool
	}{
		{"nil is unconditional", nil, true},
		{"confident", special(game.SpecialConfident), false},
		{"uncertain", special(game.SpecialUncertain), true},
		{"successful", special(game.SpecialSuccessful), true},
		{"failed", special(game.SpecialFailed), false},
		{"and", &game.Condition{Kind: game.CondAnd, Left: special(game.SpecialUncertain), Right: special(game.SpecialSuccessful)}, true},
		{"or", &game.Condition{Kind: game.CondOr, Left: special(game.SpecialConfident), Right: special(game.SpecialFailed)}, false},
		{"not", &game.Condition{Kind: game.CondNot, Operand: special(game.SpecialConfident)}, true},
		{"numeric compare", &game.Condition{Kind: game.CondCompare, Ref: "severity", Op: ">=", Value: 7}, true},
		{"numeric from string", &game.Condition{Kind: game.CondCompare, Ref: "patient.age", Op: "<", Value: 40.0}, false},
		{"string equality ignores case", &game.Condition{Kind: game.CondCompare, Ref: "location", Op: "=", Value: "chest"}, true},
		{"string ordering unsupported", &game.Condition{Kind: game.CondCompare, Ref: "location", Op: ">", Value: "arm"}, false},
		{"missing ref compares false", &game.Condition{Kind: game.CondCompare, Ref: "onset", Op: "!=", Value: "x"}, false},
		{"ref truthy", &game.Condition{Kind: game.CondRef, Ref: "location"}, true},
		{"ref empty string", &game.Condition{Kind: game.CondRef, Ref: "empty"}, false},
		{"ref missing", &game.Condition{Kind: game.CondRef, Ref: "nope"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalCondition(tt.cond, env))
		})
	}
}

func TestFailedAfterErrorStatus(t *testing.T) {
	env := evalEnv{lastStatus: statusErr}
	assert.True(t, evalCondition(special(game.SpecialFailed), env))
	assert.False(t, evalCondition(special(game.SpecialSuccessful), env))
}
