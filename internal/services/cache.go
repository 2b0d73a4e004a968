package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// ConfigCache holds the last configuration read outside a transaction.
// Transactions never consult it.
//
// Every Invalidate moves the cache to a new generation. A reader takes the
// generation before it loads from the store and passes it to Set, so a load
// that raced a write is never cached over the invalidation.
type ConfigCache interface {
	Get(ctx context.Context) (*models.Configuration, bool)
	// Generation reports the current generation. ok is false when it
	// cannot be read; callers then skip Set.
	Generation(ctx context.Context) (gen uint64, ok bool)
	// Set stores cfg unless the cache was invalidated after gen was taken.
	Set(ctx context.Context, cfg *models.Configuration, gen uint64)
	Invalidate(ctx context.Context)
}

type memoryCache struct {
	mu      sync.RWMutex
	cfg     *models.Configuration
	gen     uint64
	expires time.Time
	ttl     time.Duration
}

// NewMemoryCache keeps the configuration in process for ttl.
func NewMemoryCache(ttl time.Duration) ConfigCache {
	return &memoryCache{ttl: ttl}
}

func (c *memoryCache) Get(_ context.Context) (*models.Configuration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg == nil || time.Now().After(c.expires) {
		return nil, false
	}
	return c.cfg.Clone(), true
}

func (c *memoryCache) Generation(_ context.Context) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen, true
}

func (c *memoryCache) Set(_ context.Context, cfg *models.Configuration, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.cfg = cfg.Clone()
	c.expires = time.Now().Add(c.ttl)
}

func (c *memoryCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = nil
	c.gen++
}

const (
	redisConfigKey     = "rifas:configuration"
	redisGenerationKey = "rifas:configuration:gen"
)

// RedisConfigCache shares the cached configuration between processes.
// Redis failures degrade to cache misses.
type RedisConfigCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func NewRedisConfigCache(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *RedisConfigCache {
	return &RedisConfigCache{client: client, ttl: ttl, log: log}
}

func (c *RedisConfigCache) Get(ctx context.Context) (*models.Configuration, bool) {
	val, err := c.client.Get(ctx, redisConfigKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("redis: failed to read cached configuration")
		}
		return nil, false
	}

	var cfg models.Configuration
	if err := json.Unmarshal(val, &cfg); err != nil {
		c.log.WithError(err).Warn("redis: corrupt cached configuration")
		return nil, false
	}
	cfg.ID = 1
	return &cfg, true
}

func (c *RedisConfigCache) Generation(ctx context.Context) (uint64, bool) {
	gen, err := c.client.Get(ctx, redisGenerationKey).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.WithError(err).Warn("redis: failed to read configuration generation")
		return 0, false
	}
	return gen, true
}

// Set writes cfg under WATCH on the generation key, so an Invalidate from
// any process between the read and the write aborts it.
func (c *RedisConfigCache) Set(ctx context.Context, cfg *models.Configuration, gen uint64) {
	b, err := json.Marshal(cfg)
	if err != nil {
		c.log.WithError(err).Warn("redis: failed to marshal configuration")
		return
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, redisGenerationKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisConfigKey, b, c.ttl)
			return nil
		})
		return err
	}, redisGenerationKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		c.log.WithError(err).Warn("redis: failed to cache configuration")
	}
}

func (c *RedisConfigCache) Invalidate(ctx context.Context) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, redisGenerationKey)
		pipe.Del(ctx, redisConfigKey)
		return nil
	})
	if err != nil {
		c.log.WithError(err).Warn("redis: failed to invalidate configuration")
	}
}
