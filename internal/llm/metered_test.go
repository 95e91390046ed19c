package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageLog struct {
	models  []string
	dollars float64
	tokens  int
}

func (u *usageLog) ObserveLLMCall(model string, dollars float64, tokens int, latency time.Duration) {
	u.models = append(u.models, model)
	u.dollars += dollars
	u.tokens += tokens
}

func TestMeteredClientRecordsEveryCompletion(t *testing.T) {
	model := &fakeModel{
		reply: `{"confidence": 0.5}`,
		info:  map[string]any{"PromptTokens": 1000, "CompletionTokens": 1000},
	}
	usage := &usageLog{}
	client := NewMeteredClient(NewLangChainClient(model, "gpt-4o-mini", time.Second), usage)

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o-mini"}, usage.models)
	assert.Equal(t, 4000, usage.tokens)
	assert.InDelta(t, 0.0015, usage.dollars, 1e-9)
	assert.InDelta(t, 0.0006*0.05, client.EstimateCost("", 50), 1e-9)
}

func TestMeteredClientSkipsFailures(t *testing.T) {
	usage := &usageLog{}
	client := NewMeteredClient(NewLangChainClient(&fakeModel{err: errors.New("rate limited")}, "gpt-4o", 0), usage)

	_, err := client.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Empty(t, usage.models)
}
