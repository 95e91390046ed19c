package game

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJSON(t *testing.T) {
	g, err := Load("testdata/medical.json")
	require.NoError(t, err)

	assert.Equal(t, "medical_triage", g.Name)
	require.Len(t, g.Moves, 3)

	pain := g.Move("pain_assessment")
	require.NotNil(t, pain)
	assert.Equal(t, 0.75, pain.Threshold)
	require.Len(t, pain.Slots, 4)
	assert.True(t, pain.Slots[0].IsRequired())
	assert.False(t, pain.Slots[3].IsRequired())
	assert.Equal(t, ExtractRegex, pain.Slots[0].Extraction)
	assert.Equal(t, "Where does it hurt?", pain.Slots[0].PromptText())

	appt := g.Move("appointment")
	require.NotNil(t, appt)
	assert.Equal(t, 0.8, appt.Threshold)
	clarify, ok := appt.ClarifyAction()
	require.True(t, ok)
	assert.Equal(t, "doctor", clarify.ParamName)

	_, ok = g.Move("greeting").ClarifyAction()
	assert.False(t, ok)
}

func TestLoadYAML(t *testing.T) {
	g, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	order := g.Move("order")
	require.NotNil(t, order)
	assert.Equal(t, 0.6, order.Threshold)
	assert.Equal(t, []string{"small", "medium", "large"}, order.Slots[0].EnumValues)
	assert.Equal(t, "What is your size?", order.Slots[0].PromptText())
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		match   bool
		params  map[string]string
	}{
		{"pain in my {location}", "I have pain in my chest", true, map[string]string{"location": "chest"}},
		{"pain in my {location}", "PAIN IN MY  back ", true, map[string]string{"location": "back"}},
		{"book * appointment", "book a dentist appointment", true, map[string]string{}},
		{"appointment with {doctor?}", "appointment with Smith", true, map[string]string{"doctor": "Smith"}},
		{"see {user.name}", "see Jones", true, map[string]string{"user.name": "Jones"}},
		{"hello", "goodbye", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			re, captures, err := CompilePattern(tt.pattern)
			require.NoError(t, err)
			p := Pattern{Text: tt.pattern, re: re, captures: captures}

			params, ok := p.Match(tt.input)
			assert.Equal(t, tt.match, ok)
			if tt.match {
				assert.Equal(t, tt.params, params)
			}
		})
	}
}

func TestValidateRejectsBadGames(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"no name", `{"moves":[{"id":"a","triggers":[]}]}`},
		{"no moves", `{"name":"g","moves":[]}`},
		{"duplicate move", `{"name":"g","moves":[{"id":"a"},{"id":"a"}]}`},
		{"unknown slot type", `{"name":"g","moves":[{"id":"a","slots":[{"name":"x","type":"color"}]}]}`},
		{"range min above max", `{"name":"g","moves":[{"id":"a","slots":[{"name":"x","type":"range","min":5,"max":1}]}]}`},
		{"unknown action", `{"name":"g","moves":[{"id":"a","blocks":[{"kind":"slots_filled","actions":[{"type":"dance"}]}]}]}`},
		{"respond without text", `{"name":"g","moves":[{"id":"a","blocks":[{"kind":"slots_filled","actions":[{"type":"respond"}]}]}]}`},
		{"bad condition", `{"name":"g","moves":[{"id":"a","blocks":[{"kind":"conditional","condition":{"kind":"special","special":"sleepy"}}]}]}`},
		{"bad regex", `{"name":"g","moves":[{"id":"a","triggers":[{"participant":"user","patterns":[{"text":"(oops"}]}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.json))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidGame), "got %v", err)
		})
	}
}

func TestThresholdResolution(t *testing.T) {
	tests := []struct {
		name string
		move Move
		want float64
	}{
		{"default", Move{ID: "a"}, DefaultThreshold},
		{"explicit", Move{ID: "a", Threshold: 0.9}, 0.9},
		{"numeric", Move{ID: "a", Confidence: &ConfidenceSpec{Kind: "numeric", Value: 0.3}}, 0.3},
		{"level", Move{ID: "a", Confidence: &ConfidenceSpec{Kind: "level", Value: "critical"}}, 0.95},
		{"unknown level", Move{ID: "a", Confidence: &ConfidenceSpec{Kind: "level", Value: "weird"}}, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mv := tt.move
			assert.Equal(t, tt.want, resolveThreshold(&mv))
		})
	}
}
