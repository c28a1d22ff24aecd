package main

import (
	"context"
	"fmt"
	"time"

	"repairbot/internal/agent"
	"repairbot/internal/cache"
	"repairbot/internal/chat"
	"repairbot/internal/config"
	"repairbot/internal/directory"
	"repairbot/internal/llm"
	"repairbot/internal/logging"
	"repairbot/internal/pipeline"
	"repairbot/internal/research"
	"repairbot/internal/store"
	"repairbot/internal/usage"
)

// slowStage is where stage timings start being logged as warnings.
const slowStage = 15 * time.Second

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg     *config.Config
	store   *store.Store
	tracker *usage.Tracker
	cache   *cache.Cache
	chat    *chat.Service
}

// newApp wires everything a turn needs: store, cache, directory and web
// clients, the Gemini model and the configured pipeline variant.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryBoot, "wire app")
	defer timer.Stop()

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, err
	}

	rc := cache.New(cfg.Cache.MaxEntries, cfg.GetCacheTTL())
	dir := directory.New(cfg.Directory.BaseURL, cfg.GetDirectoryTimeout(),
		directory.WithCache(rc),
		directory.WithUserAgent(cfg.Directory.UserAgent),
	)
	web := research.NewSearcher(research.Options{
		TavilyAPIKey:     cfg.Search.TavilyAPIKey,
		TavilyURL:        cfg.Search.TavilyURL,
		InstantAnswerURL: cfg.Search.InstantAnswerURL,
		HTMLSearchURL:    cfg.Search.HTMLSearchURL,
		MaxResults:       cfg.Search.MaxResults,
		Timeout:          cfg.GetSearchTimeout(),
		Cache:            rc,
	})

	model, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	tracker := usage.NewTracker(st)
	graph, err := buildGraph(cfg.Pipeline.Variant, agent.Deps{
		Directory:         dir,
		Web:               web,
		Model:             model,
		ToolModel:         model,
		Usage:             tracker,
		Persister:         st,
		Retry:             llm.Policy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.GetRetryBaseDelay()},
		MaxToolIterations: cfg.Pipeline.MaxToolIterations,
		MaxSteps:          cfg.Pipeline.MaxSteps,
		SlowStage:         slowStage,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := chat.NewService(graph, st, tracker, chat.Config{
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		Model:        model.Model(),
		TurnTimeout:  cfg.GetLLMTimeout(),
	})

	logging.Get(logging.CategoryBoot).Infow("app wired",
		"variant", cfg.Pipeline.Variant,
		"model", model.Model(),
		"db", st.Path(),
		"cache", rc.Enabled(),
	)
	return &app{cfg: cfg, store: st, tracker: tracker, cache: rc, chat: svc}, nil
}

func (a *app) Close() error {
	stats := a.cache.Stats()
	logging.Get(logging.CategoryCache).Debugw("cache stats at exit", "hits", stats.Hits, "misses", stats.Misses, "shared", stats.Shared, "entries", stats.Entries)
	used := a.tracker.Stats()
	logging.Get(logging.CategoryUsage).Infow("usage this run",
		"tokens", used.Total.Tokens,
		"requests", used.Total.Requests,
		"owners", len(used.ByOwner),
		"persist_failures", used.Failures,
		"uptime", time.Since(used.Started).Round(time.Second),
	)
	return a.store.Close()
}

// buildGraph selects the pipeline variant.
func buildGraph(variant string, d agent.Deps) (*pipeline.Graph, error) {
	switch variant {
	case config.VariantSequential, "":
		return agent.NewSequentialGraph(d)
	case config.VariantToolCalling:
		return agent.NewToolCallingGraph(d)
	default:
		return nil, fmt.Errorf("unknown pipeline variant %q", variant)
	}
}
