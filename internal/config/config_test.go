package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LGDL_ENABLE_LLM_SEMANTIC_MATCHING", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.75, cfg.LexicalThreshold)
	assert.Equal(t, 0.80, cfg.EmbeddingThreshold)
	assert.Equal(t, 3, cfg.NegotiationMaxRounds)
	assert.Equal(t, 0.05, cfg.NegotiationEpsilon)
	assert.Equal(t, 300*time.Second, cfg.StateTTL)
	assert.False(t, cfg.EnableLLMMatching)
	assert.False(t, cfg.EnableSemanticSlotExtraction)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LGDL_CASCADE_LEXICAL_THRESHOLD", "0.6")
	t.Setenv("LGDL_NEGOTIATION_MAX_ROUNDS", "5")
	t.Setenv("LGDL_STATE_TTL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.LexicalThreshold)
	assert.Equal(t, 5, cfg.NegotiationMaxRounds)
	assert.Equal(t, time.Minute, cfg.StateTTL)
}

func TestLLMWithoutCredentialsIsFatal(t *testing.T) {
	tests := []struct {
		name string
		env  string
	}{
		{"matching", "LGDL_ENABLE_LLM_SEMANTIC_MATCHING"},
		{"slot extraction", "LGDL_ENABLE_SEMANTIC_SLOT_EXTRACTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			t.Setenv(tt.env, "true")

			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingCredentials))
		})
	}
}

func TestAnthropicKeySelection(t *testing.T) {
	cfg := Default()
	cfg.LLMProvider = ProviderAnthropic
	cfg.AnthropicAPIKey = "sk-ant"
	cfg.EnableLLMMatching = true

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sk-ant", cfg.LLMAPIKey())
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := Default()
	cfg.LexicalThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LLMProvider = "cohere"
	assert.Error(t, cfg.Validate())
}
