package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidJSON is returned when a completion is not a JSON object.
	ErrInvalidJSON = errors.New("LLM returned invalid JSON")
	// ErrCostExceeded is returned when a request's estimated cost is over budget.
	ErrCostExceeded = errors.New("estimated LLM cost exceeds limit")
)

// Client defines the interface for structured-JSON completions.
type Client interface {
	Complete(ctx context.Context, request *CompletionRequest) (*CompletionResult, error)
	EstimateCost(prompt string, maxTokens int) float64
}

// CompletionRequest represents the structured request to the LLM
type CompletionRequest struct {
	Prompt      string
	Schema      Schema
	MaxTokens   int
	Temperature float64
}

// CompletionResult is the parsed JSON response plus accounting.
type CompletionResult struct {
	Content    map[string]any
	Cost       float64
	TokensUsed int
	Model      string
	Latency    time.Duration
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Field describes one key of the expected JSON response.
type Field struct {
	Name        string
	Type        string
	Description string
	Minimum     *float64
	Maximum     *float64
	Enum        []string
}

// Schema is the ordered list of expected response fields.
type Schema []Field

// Describe renders the schema as the field list appended to prompts.
func (s Schema) Describe() string {
	lines := make([]string, 0, len(s))
	for _, f := range s {
		typ := f.Type
		if typ == "" {
			typ = "any"
		}
		line := fmt.Sprintf("- %s (%s)", f.Name, typ)
		if f.Description != "" {
			line += ": " + f.Description
		}
		if f.Minimum != nil && f.Maximum != nil {
			line += fmt.Sprintf(" [range: %g-%g]", *f.Minimum, *f.Maximum)
		} else if len(f.Enum) > 0 {
			line += fmt.Sprintf(" [one of: %s]", strings.Join(f.Enum, ", "))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Float reads a numeric field from parsed content, tolerating strings.
func (r *CompletionResult) Float(key string) float64 {
	switch v := r.Content[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

// String reads a string field from parsed content.
func (r *CompletionResult) String(key string) string {
	if s, ok := r.Content[key].(string); ok {
		return s
	}
	return ""
}

// Strings reads an array-of-strings field from parsed content.
func (r *CompletionResult) Strings(key string) []string {
	raw, ok := r.Content[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// price is USD per 1000 tokens.
type price struct {
	input  float64
	output float64
}

var pricing = map[string]price{
	"gpt-4o-mini":                {0.00015, 0.0006},
	"gpt-4o":                     {0.0025, 0.01},
	"gpt-3.5-turbo":              {0.0015, 0.002},
	"claude-3-5-haiku-20241022":  {0.0008, 0.004},
	"claude-3-5-sonnet-20241022": {0.003, 0.015},
}

func priceFor(model string) price {
	if p, ok := pricing[model]; ok {
		return p
	}
	return pricing["gpt-4o-mini"]
}

// CalculateCost returns the USD cost of a completion.
func CalculateCost(model string, usage Usage) float64 {
	p := priceFor(model)
	return float64(usage.InputTokens)/1000*p.input + float64(usage.OutputTokens)/1000*p.output
}

// EstimateCost uses the rough 4 characters per token rule.
func EstimateCost(model, prompt string, maxTokens int) float64 {
	return CalculateCost(model, Usage{InputTokens: len(prompt) / 4, OutputTokens: maxTokens})
}
