// Package app wires configuration into a ready dialogue engine.
package app

import (
	"fmt"
	"io"
	"log"

	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/avvvet/lgdl-runtime/internal/embedding"
	"github.com/avvvet/lgdl-runtime/internal/game"
	"github.com/avvvet/lgdl-runtime/internal/llm"
	"github.com/avvvet/lgdl-runtime/internal/matcher"
	"github.com/avvvet/lgdl-runtime/internal/memory"
	"github.com/avvvet/lgdl-runtime/internal/metrics"
	"github.com/avvvet/lgdl-runtime/internal/negotiation"
	"github.com/avvvet/lgdl-runtime/internal/runtime"
	"github.com/avvvet/lgdl-runtime/internal/slots"
	"github.com/prometheus/client_golang/prometheus"
)

// Hooks are the outer-surface pieces supplied by the caller.
type Hooks struct {
	Clarifier runtime.Clarifier
	Sink      runtime.InteractionSink
	Executor  runtime.Executor
	Registry  prometheus.Registerer
}

// Runtime owns the engine and everything it opened.
type Runtime struct {
	Config  *config.Config
	Game    *game.CompiledGame
	Engine  *runtime.Engine
	State   *memory.Manager
	Storage memory.Storage
	Cache   memory.Cache
	Metrics *metrics.Metrics

	closers []io.Closer
}

// OpenStorage returns the conversation store the config asks for.
func OpenStorage(cfg *config.Config) (memory.Storage, error) {
	if cfg.StateDisabled {
		log.Println("⚠️ Persistent state disabled, conversations live in process memory")
		return memory.NewMemoryStore(), nil
	}
	store, err := memory.OpenSQLite(cfg.StateDBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("💾 Conversation store: %s", cfg.StateDBPath)
	return store, nil
}

// Build loads the game at cfg.GamePath and assembles the engine.
func Build(cfg *config.Config, hooks Hooks) (*Runtime, error) {
	g, err := game.Load(cfg.GamePath)
	if err != nil {
		return nil, err
	}
	log.Printf("🎲 Loaded game %s with %d moves", g.Name, len(g.Moves))
	return BuildWithGame(cfg, g, hooks)
}

// BuildWithGame assembles the engine for an already compiled game.
func BuildWithGame(cfg *config.Config, g *game.CompiledGame, hooks Hooks) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Game: g}
	built := false
	defer func() {
		if !built {
			rt.Close()
		}
	}()

	rt.Metrics = metrics.New(hooks.Registry)

	var client llm.Client
	if cfg.EnableLLMMatching || cfg.EnableSemanticSlotExtraction {
		lc, err := llm.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		client = llm.NewMeteredClient(lc, rt.Metrics)
	}

	var provider embedding.Provider
	if cfg.OpenAIAPIKey != "" {
		provider = embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	}
	embedder, err := embedding.New(provider, embedding.Options{
		Model:        cfg.EmbeddingModel,
		Version:      cfg.EmbeddingVersion,
		CacheEnabled: cfg.EmbeddingCacheEnabled,
		CacheDir:     cfg.EmbeddingCachePath,
		Timeout:      cfg.LLMTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	rt.closers = append(rt.closers, embedder)
	log.Printf("🧮 Embeddings: model=%s remote=%t", embedder.Model(), embedder.Remote())

	cascade, err := matcher.NewCascade(embedder, client, matcher.Options{
		LexicalThreshold:   cfg.LexicalThreshold,
		EmbeddingThreshold: cfg.EmbeddingThreshold,
		EnableLLM:          cfg.EnableLLMMatching,
		MaxCostPerTurn:     cfg.MaxCostPerTurn,
		LLMMaxTokens:       cfg.LLMMaxTokens,
		LLMTemperature:     cfg.LLMTemperature,
	})
	if err != nil {
		return nil, err
	}

	extractors, err := slots.NewEngine(client, cfg.EnableSemanticSlotExtraction)
	if err != nil {
		return nil, err
	}

	storage, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}
	rt.Storage = storage
	rt.closers = append(rt.closers, storage)

	if cfg.RedisURL != "" {
		redisCache, err := memory.NewRedisCache(cfg.RedisURL, cfg.StateTTL)
		if err != nil {
			return nil, err
		}
		rt.Cache = redisCache
		rt.closers = append(rt.closers, redisCache)
		log.Println("✅ Redis state cache connected")
	} else {
		rt.Cache = memory.NewTTLCache(cfg.StateTTL)
	}
	rt.State = memory.NewManager(storage, rt.Cache)

	engine, err := runtime.New(g, runtime.Deps{
		Matcher:     cascade,
		Negotiation: negotiation.New(cfg.NegotiationMaxRounds, cfg.NegotiationEpsilon, cfg.ClarifyTimeout),
		Slots:       slots.NewManager(rt.State, extractors),
		State:       rt.State,
		Clarifier:   hooks.Clarifier,
		Executor:    hooks.Executor,
		Sink:        hooks.Sink,
		Metrics:     rt.Metrics,
	}, runtime.Options{
		NegotiationEnabled: cfg.NegotiationEnabled,
		LexicalThreshold:   cfg.LexicalThreshold,
	})
	if err != nil {
		return nil, err
	}
	rt.Engine = engine
	built = true
	return rt, nil
}

// Close releases everything Build opened, newest first.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
