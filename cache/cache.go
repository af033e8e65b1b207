package cache

import (
	"context"
	"errors"
	"time"

	redis_db "github.com/flowlane/flowlane/internal/redis-db"

	"github.com/go-redis/cache/v9"
)

const cacheSize = 128000

// Cache is the small read-through cache used to keep schema catalog lookups
// off the request hot path.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

// NewCache builds a redis-backed cache with a local TinyLFU tier.
func NewCache(redisDns string) (Cache, error) {
	client, err := redis_db.NewRedisClient(redisDns)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	return &RedisCache{cache: c}, nil
}

type RedisCache struct {
	cache *cache.Cache
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
