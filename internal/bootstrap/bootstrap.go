// Package bootstrap assembles the process-wide runtime shared by the api,
// worker and jobctl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/CanSsever/qoder-deneme-sub000/db/migrations"
	"github.com/CanSsever/qoder-deneme-sub000/internal/adapter/repo"
	"github.com/CanSsever/qoder-deneme-sub000/internal/adapter/sqlite"
	"github.com/CanSsever/qoder-deneme-sub000/internal/cache"
	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra/credentials"
	"github.com/CanSsever/qoder-deneme-sub000/internal/orchestrator"
	"github.com/CanSsever/qoder-deneme-sub000/internal/pipeline"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers"
	"github.com/CanSsever/qoder-deneme-sub000/internal/providers/setup"
	"github.com/CanSsever/qoder-deneme-sub000/internal/security"
	"github.com/CanSsever/qoder-deneme-sub000/internal/statuscache"
	"github.com/CanSsever/qoder-deneme-sub000/internal/storage"
	"github.com/CanSsever/qoder-deneme-sub000/internal/webhook"
)

// Secrets resolves and stores provider tokens.
type Secrets interface {
	setup.SecretResolver
	SetToken(ctx context.Context, provider, token string) error
}

// Persistence is the full store surface used by the binaries.
type Persistence interface {
	domain.Store
	domain.JobCreator
}

// Runtime holds every long-lived dependency of a process.
type Runtime struct {
	Config *infra.Config
	Logger *infra.Logger

	Store   Persistence
	Secrets Secrets
	Pool    *pgxpool.Pool
	SQLite  *sqlite.Store
	Redis   *redis.Client

	Providers    *providers.Registry
	Catalog      *pipeline.Catalog
	Files        *storage.FileStore
	Guard        *security.Guard
	Cache        *cache.Cache
	Status       *statuscache.Cache
	Webhooks     *webhook.Dispatcher
	Orchestrator *orchestrator.Orchestrator
}

// Open connects persistence and redis and builds the job pipeline. The
// caller owns the returned runtime and must Close it.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	logger = infra.LoggerOrNop(logger)
	rt := &Runtime{Config: cfg, Logger: logger}

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	client, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Redis = client
	if client == nil {
		logger.Info().Msg("bootstrap: redis disabled")
	}

	rt.Catalog, err = pipeline.Load(cfg.PipelineConfigPath)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load pipeline catalog: %w", err)
	}
	rt.Files, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	rt.Providers = setup.Registry(ctx, cfg, rt.Secrets, logger)
	rt.Guard = security.NewGuard(cfg, logger)
	if client != nil {
		rt.Cache = cache.New(rt.Store, cache.NewRedisIndex(client), logger)
	} else {
		rt.Cache = cache.New(rt.Store, nil, logger)
	}
	rt.Status = statuscache.New(client, logger)

	secret, err := rt.Secrets.Resolve(ctx, credentials.ProviderWebhook, cfg.WebhookSecret)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: webhook secret lookup failed")
	}
	if secret == "" {
		logger.Warn().Msg("bootstrap: webhook secret empty, deliveries are signed with an empty key")
	}
	rt.Webhooks = webhook.NewDispatcher(webhook.NewDeliverer(webhook.Options{
		Secret:   secret,
		Timeout:  cfg.WebhookTimeout,
		Delays:   cfg.WebhookRetryDelays,
		Recorder: rt.Store,
		Logger:   logger,
	}), cfg.WebhookURL, logger)

	rt.Orchestrator = orchestrator.New(orchestrator.Options{
		Store:        rt.Store,
		Cache:        rt.Cache,
		Guard:        rt.Guard,
		Storage:      rt.Files,
		Providers:    rt.Providers,
		Templates:    rt.Catalog,
		Notifier:     rt.Webhooks,
		Observers:    []orchestrator.Observer{rt.Status},
		Logger:       logger,
		MaxPolls:     cfg.PollMaxIterations,
		PollInterval: cfg.PollInterval,
		RetryDelays:  cfg.JobRetryDelays,
		CallTimeout:  cfg.ProviderRequestTimeout,
	})
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	cfg := rt.Config
	if infra.IsSQLiteURL(cfg.DatabaseURL) {
		store, err := sqlite.Open(infra.SQLitePath(cfg.DatabaseURL))
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		rt.SQLite = store
		rt.Store = store
		rt.Secrets = store
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
		rt.Logger.Info().Str("path", infra.SQLitePath(cfg.DatabaseURL)).Msg("bootstrap: sqlite store ready")
		return nil
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	rt.Pool = pool
	runner := infra.NewSQLRunner(pool, *rt.Logger)
	rt.Store = repo.NewStore(runner)
	rt.Secrets = credentials.NewStore(runner)
	rt.Logger.Info().Msg("bootstrap: postgres store ready")
	return nil
}

// Migrate applies the schema. SQLite is already migrated by Open.
func (rt *Runtime) Migrate(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	return infra.ApplyMigrations(ctx, rt.Pool, migrations.FS, rt.Logger)
}

// Close releases connections. Pending webhooks are not awaited; call
// Webhooks.Shutdown first for that.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.SQLite != nil {
		_ = rt.SQLite.Close()
	}
}
