package infra

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool initializes a new pgx connection pool using the provided configuration.
func NewDBPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	maxConns := int32(cfg.WorkerConcurrency * 2)
	if maxConns < 10 {
		maxConns = 10
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return pool, nil
}

// IsSQLiteURL reports whether the database url selects the embedded store.
func IsSQLiteURL(databaseURL string) bool {
	return strings.HasPrefix(strings.TrimSpace(databaseURL), "sqlite://")
}

// SQLitePath strips the sqlite:// scheme.
func SQLitePath(databaseURL string) string {
	return strings.TrimPrefix(strings.TrimSpace(databaseURL), "sqlite://")
}

// ApplyMigrations executes every *.sql file of fsys in name order. The
// statements are idempotent (create ... if not exists).
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, logger *Logger) error {
	logger = LoggerOrNop(logger)
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		logger.Info().Str("migration", name).Msg("db: migration applied")
	}
	return nil
}
