// Package setup builds a Coordinator from environment configuration. Both entrypoints share it.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joeshaw/envdecode"

	"nutritionagent"
	"nutritionagent/coordinator"
	"nutritionagent/intent"
	"nutritionagent/llm"
	"nutritionagent/llm/bedrock"
	"nutritionagent/llm/gemini"
	"nutritionagent/llm/ollama"
	"nutritionagent/merger"
	"nutritionagent/parser"
	"nutritionagent/resolver"
	"nutritionagent/session"
	"nutritionagent/tools"
	"nutritionagent/tools/storage"
)

type Config struct {
	Model    nutritionagent.ModelConfig
	Agent    nutritionagent.AgentConfig
	Resolver nutritionagent.ResolverConfig
	Source   nutritionagent.SourceConfig
}

func LoadConfig() (Config, error) {
	var cfg Config
	for _, target := range []any{&cfg.Model, &cfg.Agent, &cfg.Resolver, &cfg.Source} {
		if err := envdecode.Decode(target); err != nil {
			return Config{}, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	return cfg, nil
}

// Deps are the pieces that differ between entrypoints.
type Deps struct {
	Meals      storage.MealState
	Store      session.Store
	Logger     nutritionagent.TurnLogger
	HTTPClient nutritionagent.HTTPClient
}

// Backend returns the model client for cfg.Agent.LLMBackend. The "rules" backend has none.
// Only Gemini can describe images.
func Backend(ctx context.Context, cfg Config, httpClient nutritionagent.HTTPClient) (llm.Completer, nutritionagent.Describer, error) {
	switch cfg.Agent.LLMBackend {
	case "rules", "":
		return nil, nil, nil

	case "bedrock":
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := bedrock.NewClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.LLMOptions{
			ModelID:     cfg.Model.ModelID,
			MaxTokens:   cfg.Model.MaxTokens,
			Temperature: cfg.Model.Temperature,
			TopP:        cfg.Model.TopP,
		})
		return client, nil, nil

	case "ollama":
		client, err := ollama.NewClient(ollama.ClientOpts{
			BaseEndpoint: cfg.Agent.BaseOllamaEndpoint,
			ModelID:      cfg.Agent.OllamaModel,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil, nil

	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Agent.GeminiAPIKey, cfg.Agent.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return client, client, nil

	default:
		return nil, nil, fmt.Errorf("unknown LLM backend %q", cfg.Agent.LLMBackend)
	}
}

// Sources wraps each provider in retry and cache layers and orders them by authority.
func Sources(cfg nutritionagent.SourceConfig, completer llm.Completer, httpClient nutritionagent.HTTPClient) (*tools.Registry, error) {
	providers := []tools.Source{
		tools.NewUSDASource(cfg.USDAEndpoint, cfg.USDAAPIKey, httpClient),
		tools.NewOpenFoodFactsSource(cfg.OFFEndpoint, cfg.UserAgent, httpClient),
	}
	if completer != nil && cfg.EnableModel {
		providers = append(providers, tools.NewEstimateSource(completer))
	}

	wrapped := make([]tools.Source, 0, len(providers))
	for _, p := range providers {
		cached, err := tools.NewCachedSource(tools.NewRetryingSource(p, cfg.MaxRetries, 200*time.Millisecond), cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, cached)
	}
	return tools.NewRegistry(wrapped...), nil
}

func NewCoordinator(ctx context.Context, cfg Config, deps Deps) (*coordinator.Coordinator, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if deps.Store == nil {
		deps.Store = session.NewMemoryStore()
	}
	if deps.Logger == nil {
		deps.Logger = nutritionagent.NewNoOpTurnLogger()
	}

	completer, describer, err := Backend(ctx, cfg, deps.HTTPClient)
	if err != nil {
		return nil, err
	}

	sources, err := Sources(cfg.Source, completer, deps.HTTPClient)
	if err != nil {
		return nil, err
	}

	meals := tools.NewMealLookup(deps.Meals)
	policy := parser.NewDefaultPolicy()

	var (
		classifier nutritionagent.Classifier = intent.NewRuleClassifier(policy)
		foodParser nutritionagent.Parser     = parser.NewRuleParser(policy, meals)
	)
	if completer != nil {
		classifier = intent.NewModelClassifier(completer)
		foodParser = parser.NewModelParser(completer, policy, meals)
	}

	opts := []coordinator.Option{coordinator.WithTurnLogger(deps.Logger)}
	if describer != nil {
		opts = append(opts, coordinator.WithDescriber(describer))
	}

	slog.Info("SETUP: Coordinator ready",
		"backend", cfg.Agent.LLMBackend,
		"sources", len(sources.GetSources()),
		"max_concurrency", cfg.Resolver.MaxConcurrency,
		"task_timeout", cfg.Resolver.TaskTimeout,
		"include_totals", cfg.Agent.IncludeTotals,
	)

	return coordinator.New(
		classifier,
		foodParser,
		resolver.New(sources,
			resolver.WithMaxConcurrency(cfg.Resolver.MaxConcurrency),
			resolver.WithTaskTimeout(cfg.Resolver.TaskTimeout)),
		merger.New(merger.Options{IncludeTotals: cfg.Agent.IncludeTotals}),
		deps.Store,
		opts...,
	), nil
}
