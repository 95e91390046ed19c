package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMissingCredentials is returned when a feature that needs an LLM is
// enabled but no API key is configured for the selected provider.
var ErrMissingCredentials = errors.New("missing LLM credentials")

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	// Service configuration
	ServiceName string
	GamePath    string
	MetricsAddr string

	// NATS configuration
	NatsURL                string
	NatsTurnSubject        string
	NatsClarifySubject     string
	NatsInteractionSubject string
	NatsTimeout            time.Duration

	// LLM configuration
	LLMProvider     string `validate:"oneof=openai anthropic"`
	OpenAIAPIKey    string
	AnthropicAPIKey string
	LLMModel        string
	LLMMaxTokens    int     `validate:"gt=0"`
	LLMTemperature  float64 `validate:"gte=0,lte=2"`
	LLMTimeout      time.Duration
	MaxCostPerTurn  float64 `validate:"gte=0"`

	// Embedding configuration
	EmbeddingModel        string
	EmbeddingVersion      string
	EmbeddingCacheEnabled bool
	EmbeddingCachePath    string

	// Feature flags
	EnableLLMMatching            bool
	EnableSemanticSlotExtraction bool

	// Cascade thresholds
	LexicalThreshold   float64 `validate:"gte=0,lte=1"`
	EmbeddingThreshold float64 `validate:"gte=0,lte=1"`

	// Negotiation
	NegotiationEnabled   bool
	NegotiationMaxRounds int     `validate:"gte=1"`
	NegotiationEpsilon   float64 `validate:"gte=0,lte=1"`
	ClarifyTimeout       time.Duration

	// State
	StateTTL      time.Duration
	StateDBPath   string
	StateDisabled bool
	RedisURL      string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		// Service settings
		ServiceName: getEnv("SERVICE_NAME", "lgdl-runtime"),
		GamePath:    getEnv("LGDL_GAME_PATH", "game.json"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		// NATS settings
		NatsURL:                getEnv("NATS_URL", "nats://localhost:4222"),
		NatsTurnSubject:        getEnv("NATS_TURN_SUBJECT", "lgdl.turn"),
		NatsClarifySubject:     getEnv("NATS_CLARIFY_SUBJECT", "lgdl.clarify"),
		NatsInteractionSubject: getEnv("NATS_INTERACTION_SUBJECT", "lgdl.interactions"),
		NatsTimeout:            getDurationEnv("NATS_TIMEOUT", 30*time.Second),

		// LLM settings
		LLMProvider:     strings.ToLower(getEnv("LGDL_LLM_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		LLMModel:        getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:    getIntEnv("LGDL_LLM_MAX_TOKENS", 100),
		LLMTemperature:  getFloatEnv("LGDL_LLM_TEMPERATURE", 0.0),
		LLMTimeout:      getDurationEnv("LGDL_LLM_TIMEOUT", 5*time.Second),
		MaxCostPerTurn:  getFloatEnv("LGDL_MAX_COST_PER_TURN", 0.01),

		// Embedding settings
		EmbeddingModel:        getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingVersion:      getEnv("OPENAI_EMBEDDING_VERSION", "2025-01"),
		EmbeddingCacheEnabled: getEnv("EMBEDDING_CACHE", "1") == "1",
		EmbeddingCachePath:    getEnv("LGDL_EMBEDDING_CACHE_PATH", ".embeddings_cache"),

		// Feature flags
		EnableLLMMatching:            getBoolEnv("LGDL_ENABLE_LLM_SEMANTIC_MATCHING", false),
		EnableSemanticSlotExtraction: getBoolEnv("LGDL_ENABLE_SEMANTIC_SLOT_EXTRACTION", false),

		// Cascade settings
		LexicalThreshold:   getFloatEnv("LGDL_CASCADE_LEXICAL_THRESHOLD", 0.75),
		EmbeddingThreshold: getFloatEnv("LGDL_CASCADE_EMBEDDING_THRESHOLD", 0.80),

		// Negotiation settings
		NegotiationEnabled:   getEnv("LGDL_NEGOTIATION", "1") == "1",
		NegotiationMaxRounds: getIntEnv("LGDL_NEGOTIATION_MAX_ROUNDS", 3),
		NegotiationEpsilon:   getFloatEnv("LGDL_NEGOTIATION_EPSILON", 0.05),
		ClarifyTimeout:       getDurationEnv("LGDL_CLARIFY_TIMEOUT", 2*time.Minute),

		// State settings
		StateTTL:      getDurationEnv("LGDL_STATE_TTL", 300*time.Second),
		StateDBPath:   getEnv("LGDL_STATE_DB", "conversations.db"),
		StateDisabled: getEnv("LGDL_STATE_DISABLED", "0") == "1",
		RedisURL:      getEnv("REDIS_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every feature flag off and the
// documented default thresholds. Used by tests and the CLI.
func Default() *Config {
	return &Config{
		ServiceName:          "lgdl-runtime",
		LLMProvider:          ProviderOpenAI,
		LLMModel:             "gpt-4o-mini",
		LLMMaxTokens:         100,
		LLMTimeout:           5 * time.Second,
		MaxCostPerTurn:       0.01,
		EmbeddingModel:       "text-embedding-3-small",
		EmbeddingVersion:     "2025-01",
		LexicalThreshold:     0.75,
		EmbeddingThreshold:   0.80,
		NegotiationEnabled:   true,
		NegotiationMaxRounds: 3,
		NegotiationEpsilon:   0.05,
		ClarifyTimeout:       2 * time.Minute,
		StateTTL:             300 * time.Second,
	}
}

// Validate checks value ranges and refuses to start with an LLM feature
// enabled but no credentials for it.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if (c.EnableLLMMatching || c.EnableSemanticSlotExtraction) && c.LLMAPIKey() == "" {
		return fmt.Errorf("%w: LLM matching or semantic slot extraction enabled but no %s API key set; "+
			"set the key or disable LGDL_ENABLE_LLM_SEMANTIC_MATCHING / LGDL_ENABLE_SEMANTIC_SLOT_EXTRACTION",
			ErrMissingCredentials, c.LLMProvider)
	}
	return nil
}

// LLMAPIKey returns the key for the configured provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
