package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

const keyPrefix = "fingerprint:"

// DefaultTTL bounds how long a hot index entry is trusted.
const DefaultTTL = 24 * time.Hour

// HotIndex is a fast key/value layer in front of the artifact table.
type HotIndex interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// ErrIndexMiss is returned by HotIndex implementations on a missing key.
var ErrIndexMiss = errors.New("cache: index miss")

// RedisIndex implements HotIndex with redis.
type RedisIndex struct {
	client *redis.Client
}

func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

func (r *RedisIndex) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrIndexMiss
	}
	return v, err
}

func (r *RedisIndex) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Cache resolves fingerprints to earlier artifacts. The artifact table is the
// source of truth; the hot index is optional.
type Cache struct {
	artifacts domain.ArtifactRepository
	index     HotIndex
	ttl       time.Duration
	logger    *infra.Logger
}

// New builds a cache. index may be nil.
func New(artifacts domain.ArtifactRepository, index HotIndex, logger *infra.Logger) *Cache {
	return &Cache{artifacts: artifacts, index: index, ttl: DefaultTTL, logger: infra.LoggerOrNop(logger)}
}

// Lookup returns a prior artifact with this fingerprint, or nil on a miss.
// Index failures fall through to the repository; repository failures are
// returned so the caller can decide to treat them as a miss.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*domain.Artifact, error) {
	if fingerprint == "" {
		return nil, nil
	}
	if c.index != nil {
		raw, err := c.index.Get(ctx, keyPrefix+fingerprint)
		switch {
		case err == nil:
			var a domain.Artifact
			if jerr := json.Unmarshal([]byte(raw), &a); jerr == nil && a.OutputURL != "" {
				return &a, nil
			}
			c.logger.Warn().Str("fingerprint", fingerprint).Msg("cache: dropping malformed index entry")
		case !errors.Is(err, ErrIndexMiss):
			c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache: index lookup failed")
		}
	}
	a, err := c.artifacts.FindArtifactByFingerprint(ctx, fingerprint)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Remember(ctx, a)
	return a, nil
}

// Remember indexes a freshly created artifact. Failures are logged only.
func (c *Cache) Remember(ctx context.Context, a *domain.Artifact) {
	if c.index == nil || a == nil || a.Fingerprint == "" {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := c.index.Set(ctx, keyPrefix+a.Fingerprint, string(raw), c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", a.Fingerprint).Msg("cache: index write failed")
	}
}
