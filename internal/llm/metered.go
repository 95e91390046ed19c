package llm

import (
	"context"
	"time"
)

// UsageRecorder receives the accounting of every completion.
type UsageRecorder interface {
	ObserveLLMCall(model string, dollars float64, tokens int, latency time.Duration)
}

// MeteredClient reports each completion to a recorder, so matching, slot
// extraction and negotiation re-matches are all counted.
type MeteredClient struct {
	Client
	recorder UsageRecorder
}

func NewMeteredClient(client Client, recorder UsageRecorder) *MeteredClient {
	return &MeteredClient{Client: client, recorder: recorder}
}

func (m *MeteredClient) Complete(ctx context.Context, request *CompletionRequest) (*CompletionResult, error) {
	res, err := m.Client.Complete(ctx, request)
	if err != nil || m.recorder == nil {
		return res, err
	}
	m.recorder.ObserveLLMCall(res.Model, res.Cost, res.TokensUsed, res.Latency)
	return res, nil
}
