package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

const systemPrompt = "You are a precise pattern matching assistant. Always respond with valid JSON."

// LangChainClient implements Client over any langchaingo model.
type LangChainClient struct {
	model   llms.Model
	name    string
	timeout time.Duration
}

// NewLangChainClient wraps an existing langchaingo model.
func NewLangChainClient(model llms.Model, modelName string, timeout time.Duration) *LangChainClient {
	return &LangChainClient{
		model:   model,
		name:    modelName,
		timeout: timeout,
	}
}

// NewClient builds the provider selected in cfg. A missing API key is an
// error; there is no mock fallback.
func NewClient(cfg *config.Config) (*LangChainClient, error) {
	apiKey := cfg.LLMAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no API key for provider %s", config.ErrMissingCredentials, cfg.LLMProvider)
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		model, err = anthropic.New(
			anthropic.WithToken(apiKey),
			anthropic.WithModel(cfg.LLMModel),
		)
	default:
		model, err = openai.New(
			openai.WithToken(apiKey),
			openai.WithModel(cfg.LLMModel),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.LLMProvider, err)
	}

	log.Printf("Using %s LLM client with model: %s", cfg.LLMProvider, cfg.LLMModel)
	return NewLangChainClient(model, cfg.LLMModel, cfg.LLMTimeout), nil
}

// Complete sends the prompt with the schema hint and parses the JSON reply.
func (c *LangChainClient) Complete(ctx context.Context, request *CompletionRequest) (*CompletionResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	fullPrompt := request.Prompt
	if len(request.Schema) > 0 {
		fullPrompt += "\n\nReturn JSON with these fields:\n" + request.Schema.Describe()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fullPrompt),
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 100
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(request.Temperature),
		llms.WithJSONMode(),
	)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	choice := resp.Choices[0]
	content, err := ParseJSONObject(choice.Content)
	if err != nil {
		log.Printf("LLM returned invalid JSON: %q", choice.Content)
		return nil, err
	}

	usage := usageFrom(choice.GenerationInfo, fullPrompt, choice.Content)
	return &CompletionResult{
		Content:    content,
		Cost:       CalculateCost(c.name, usage),
		TokensUsed: usage.InputTokens + usage.OutputTokens,
		Model:      c.name,
		Latency:    latency,
	}, nil
}

// EstimateCost implements Client.
func (c *LangChainClient) EstimateCost(prompt string, maxTokens int) float64 {
	return EstimateCost(c.name, prompt, maxTokens)
}

// usageFrom reads token counts from provider generation info. OpenAI and
// Anthropic report them under different keys; when neither is present the
// character estimate is used.
func usageFrom(info map[string]any, prompt, completion string) Usage {
	in := intFrom(info, "PromptTokens", "InputTokens")
	out := intFrom(info, "CompletionTokens", "OutputTokens")
	if in == 0 && out == 0 {
		return Usage{InputTokens: len(prompt) / 4, OutputTokens: len(completion) / 4}
	}
	return Usage{InputTokens: in, OutputTokens: out}
}

func intFrom(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// ParseJSONObject extracts the outermost JSON object from content.
func ParseJSONObject(content string) (map[string]any, error) {
	jsonContent := extractJSON(content)
	if jsonContent == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrInvalidJSON)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(jsonContent), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return out, nil
}

func extractJSON(content string) string {
	// Look for JSON object in the content
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(content, "}")
	if end == -1 || end <= start {
		return ""
	}

	return content[start : end+1]
}
