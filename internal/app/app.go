// Package app wires the clients shared by the server, worker and cleanup binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"lumen.app/studio/common/llm"
	"lumen.app/studio/core/config"
	"lumen.app/studio/core/db"
	"lumen.app/studio/internal/provider"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/service"
	"lumen.app/studio/internal/store"
)

type Runtime struct {
	DB        *db.DB
	Redis     *redis.Client
	Stores    *store.Stores
	Providers *provider.Registry
	Media     store.MediaStore
	Producer  queue.Producer
	Status    *queue.RedisStatusStream
	Services  *service.Services

	// LocalMediaDir is set when media lives on local disk and the server should serve it.
	LocalMediaDir string
}

// Open connects to Postgres and Redis and builds every service.
func Open(ctx context.Context, cfg config.Config) (*Runtime, error) {
	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	slog.InfoContext(ctx, "database connected")

	redisClient, err := OpenRedis(ctx, cfg.Pipeline.RedisURL)
	if err != nil {
		database.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	media, localDir, err := NewMediaStore(cfg.Storage)
	if err != nil {
		database.Close()
		_ = redisClient.Close()
		return nil, err
	}

	stores := store.NewStores(database)
	providers := NewProviders(ctx, cfg.Providers, stores.APILogs())
	status := queue.NewRedisStatusStream(redisClient, cfg.Pipeline.StatusStreamSize)
	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)

	services := service.NewServices(service.ServiceDeps{
		Stores:    stores,
		Tx:        service.NewTxRunner(database, stores),
		Providers: providers,
		Media:     media,
		Producer:  producer,
		Status:    status,
		Limiter:   service.NewRedisRateLimiter(redisClient, "studio:ratelimit"),
		LLM:       NewPromptLLM(ctx, cfg.PromptLLM),
	}, cfg)

	return &Runtime{
		DB:            database,
		Redis:         redisClient,
		Stores:        stores,
		Providers:     providers,
		Media:         media,
		Producer:      producer,
		Status:        status,
		Services:      services,
		LocalMediaDir: localDir,
	}, nil
}

// Close releases Redis (through the producer) and the database pool.
func (r *Runtime) Close() {
	if err := r.Producer.Close(); err != nil {
		slog.Warn("closing redis", "error", err)
	}
	r.DB.Close()
}

func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewProviders registers every provider with credentials, each wrapped to write api_logs.
func NewProviders(ctx context.Context, cfg config.ProvidersConfig, apiLogs provider.APILogWriter) *provider.Registry {
	registry := provider.NewRegistry()
	httpClient := provider.NewHTTPClient(cfg.Timeout)
	withLog := provider.WithAPILog(apiLogs)

	if cfg.Replicate.Enabled() {
		registry.Register(provider.NewReplicate(provider.ReplicateConfig{
			APIToken:   cfg.Replicate.APIToken,
			BaseURL:    cfg.Replicate.BaseURL,
			HTTPClient: httpClient,
		}), withLog)
	}
	if cfg.Fal.Enabled() {
		registry.Register(provider.NewFal(provider.FalConfig{
			APIKey:     cfg.Fal.APIKey,
			BaseURL:    cfg.Fal.BaseURL,
			HTTPClient: httpClient,
		}), withLog)
	}
	if cfg.Google.Enabled() {
		registry.Register(provider.NewGoogle(provider.GoogleConfig{
			APIKey:     cfg.Google.APIKey,
			BaseURL:    cfg.Google.BaseURL,
			HTTPClient: httpClient,
		}), withLog)
	}

	if len(registry.Names()) == 0 {
		slog.WarnContext(ctx, "no generation providers configured")
	} else {
		slog.InfoContext(ctx, "generation providers configured", "providers", registry.Names())
	}
	return registry
}

func NewMediaStore(cfg config.StorageConfig) (store.MediaStore, string, error) {
	maxSize := cfg.MaxObjectBytes
	if maxSize <= 0 {
		maxSize = store.DefaultMaxObjectSize
	}

	switch cfg.Backend {
	case "supabase":
		return store.NewSupabaseMediaStore(cfg.SupabaseURL, cfg.ServiceKey, cfg.Bucket, maxSize), "", nil
	case "local", "":
		local, err := store.NewLocalMediaStore(cfg.LocalDir, cfg.LocalPublicURL, maxSize)
		if err != nil {
			return nil, "", fmt.Errorf("opening local media store: %w", err)
		}
		return local, local.Root(), nil
	default:
		return nil, "", fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewPromptLLM returns nil when prompt enhancement is not configured.
func NewPromptLLM(ctx context.Context, cfg config.LLMConfig) llm.AgentClient {
	if !cfg.Enabled() {
		return nil
	}
	client, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
	})
	if err != nil {
		slog.WarnContext(ctx, "prompt enhancement disabled", "error", err)
		return nil
	}
	return client
}
