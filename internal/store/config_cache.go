package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josephai/jai-chat/internal/logger"
)

// ModelConfigStore is the persistence surface for admin-edited mode overrides.
type ModelConfigStore interface {
	GetCustomModelConfig(ctx context.Context, modeKey string) (*CustomModelConfig, error)
	UpsertCustomModelConfig(ctx context.Context, modeKey, basePrompt string, triggers []EventTrigger, injections []string) (*CustomModelConfig, error)
}

// CachedConfigStore reads custom model configs through Redis. Every chat turn in a customizable
// mode reads its config, while admins write it rarely. Redis failures fall through to the
// underlying store and are only logged.
type CachedConfigStore struct {
	next   ModelConfigStore
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

func NewCachedConfigStore(next ModelConfigStore, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedConfigStore {
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedConfigStore{next: next, redis: client, prefix: "jai:model-config:", ttl: ttl, log: log}
}

// Cached values are keyed by a per-mode version that every upsert bumps. A reader that loaded
// the old row before an upsert can only fill the old version's key, which nobody reads again.
func (c *CachedConfigStore) versionKey(modeKey string) string {
	return c.prefix + modeKey + ":version"
}

func (c *CachedConfigStore) key(modeKey string, version int64) string {
	return fmt.Sprintf("%s%s:v%d", c.prefix, modeKey, version)
}

func (c *CachedConfigStore) GetCustomModelConfig(ctx context.Context, modeKey string) (*CustomModelConfig, error) {
	version, err := c.redis.Get(ctx, c.versionKey(modeKey)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("Model config cache read failed", "mode", modeKey, "error", err)
		return c.next.GetCustomModelConfig(ctx, modeKey)
	}

	raw, err := c.redis.Get(ctx, c.key(modeKey, version)).Bytes()
	switch {
	case err == nil:
		var cfg *CustomModelConfig
		if jsonErr := json.Unmarshal(raw, &cfg); jsonErr == nil {
			return cfg, nil
		}
		c.log.Warn("Dropping undecodable cached model config", "mode", modeKey)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("Model config cache read failed", "mode", modeKey, "error", err)
	}

	cfg, err := c.next.GetCustomModelConfig(ctx, modeKey)
	if err != nil {
		return nil, err
	}
	// A row holding malformed JSON cannot be re-encoded; it is served uncached.
	payload, err := json.Marshal(cfg)
	if err != nil {
		return cfg, nil
	}
	if err := c.redis.Set(ctx, c.key(modeKey, version), payload, c.ttl).Err(); err != nil {
		c.log.Warn("Model config cache write failed", "mode", modeKey, "error", err)
	}
	return cfg, nil
}

func (c *CachedConfigStore) UpsertCustomModelConfig(ctx context.Context, modeKey, basePrompt string, triggers []EventTrigger, injections []string) (*CustomModelConfig, error) {
	cfg, err := c.next.UpsertCustomModelConfig(ctx, modeKey, basePrompt, triggers, injections)
	if err != nil {
		return nil, err
	}
	if err := c.redis.Incr(ctx, c.versionKey(modeKey)).Err(); err != nil {
		c.log.Warn("Model config cache invalidation failed", "mode", modeKey, "error", err)
	}
	return cfg, nil
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
