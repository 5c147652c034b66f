package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Cavedragon13/ai-image-organizer/internal/ai"
	"github.com/Cavedragon13/ai-image-organizer/internal/cache"
	"github.com/Cavedragon13/ai-image-organizer/internal/config"
	"github.com/Cavedragon13/ai-image-organizer/internal/logging"
	"github.com/Cavedragon13/ai-image-organizer/internal/mover"
	"github.com/Cavedragon13/ai-image-organizer/internal/queue"
	"github.com/Cavedragon13/ai-image-organizer/internal/registry"
	"github.com/Cavedragon13/ai-image-organizer/internal/repository"
	"github.com/Cavedragon13/ai-image-organizer/internal/service"
	"github.com/Cavedragon13/ai-image-organizer/internal/worker"
)

// engine bundles the job pipeline shared by the serve and run commands.
type engine struct {
	logger     *slog.Logger
	registry   *registry.Registry
	pool       *queue.Pool
	controller *worker.Controller
	jobs       *service.JobsService
	closers    []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func newEngine(ctx context.Context, cfg config.Config, workers, capacity int) (*engine, error) {
	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	e := &engine{logger: logger}
	e.closers = append(e.closers, func() { _ = closeLog() })

	client, err := setupModelClient(ctx, cfg, logger, e)
	if err != nil {
		e.Close()
		return nil, err
	}
	history := setupHistory(ctx, cfg, logger, e)

	e.registry = registry.New()
	e.pool = queue.NewPool(workers, capacity, logger)
	e.controller = worker.NewController(e.registry, client, client, mover.New(logger), history, logger)
	e.jobs = service.NewJobsService(e.registry, e.pool, history, cfg.DefaultSettings(), logger)
	return e, nil
}

func setupModelClient(ctx context.Context, cfg config.Config, logger *slog.Logger, e *engine) (ai.Client, error) {
	var base ai.Client
	switch cfg.AI.Provider {
	case config.ProviderOpenAI:
		base = ai.NewOpenAIClient(ai.OpenAIClientConfig{
			APIKey:         cfg.AI.OpenAIAPIKey,
			BaseURL:        cfg.AI.OpenAIBaseURL,
			EmbeddingModel: cfg.AI.EmbeddingModel,
			Timeout:        cfg.AI.Timeout(),
			MaxRetries:     cfg.AI.MaxRetries,
		})
	default:
		ollamaClient, err := ai.NewOllamaClient(ai.OllamaClientConfig{
			Host:           cfg.AI.OllamaHost,
			EmbeddingModel: cfg.AI.EmbeddingModel,
			Timeout:        cfg.AI.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init ollama client: %w", err)
		}
		base = ollamaClient
	}
	logger.Info("model client ready", "provider", cfg.AI.Provider, "embedding_model", cfg.AI.EmbeddingModel)

	limited := ai.NewRateLimited(base, cfg.AI.RequestsPerSecond, cfg.AI.Burst)

	var store cache.Store
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL(),
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using memory cache", "error", err)
		} else {
			logger.Info("redis cache initialized", "addr", cfg.Cache.RedisAddr)
			store = redisCache
			e.closers = append(e.closers, func() { _ = redisCache.Close() })
		}
	}
	if store == nil {
		store = cache.NewMemoryCache(cache.Config{
			TTL:        cfg.Cache.TTL(),
			MaxEntries: cfg.Cache.MaxEntries,
		})
	}
	return ai.NewCached(limited, store, cfg.AI.EmbeddingModel, logger), nil
}

func setupHistory(ctx context.Context, cfg config.Config, logger *slog.Logger, e *engine) repository.HistoryRepository {
	if cfg.Storage.DatabaseURL != "" {
		pg, err := repository.NewPostgresHistory(ctx, cfg.Storage.DatabaseURL)
		if err == nil {
			logger.Info("postgres history initialized")
			e.closers = append(e.closers, pg.Close)
			return pg
		}
		logger.Warn("postgres history unavailable, falling back", "error", err)
	}
	if cfg.Storage.SQLitePath != "" {
		lite, err := repository.NewSQLiteHistory(ctx, cfg.Storage.SQLitePath)
		if err == nil {
			logger.Info("sqlite history initialized", "path", cfg.Storage.SQLitePath)
			e.closers = append(e.closers, func() { _ = lite.Close() })
			return lite
		}
		logger.Warn("sqlite history unavailable, falling back", "error", err)
	}
	logger.Info("using in-memory history")
	return repository.NewMemoryHistory()
}
