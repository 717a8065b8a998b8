package service

import (
	"context"
	"time"

	"github.com/noah-isme/prepmint-api/internal/models"
	"github.com/noah-isme/prepmint-api/pkg/cache"
)

// ProfileCache keeps recently read user profiles. Entries expire after the
// cache TTL; writers invalidate explicitly.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (models.UserProfile, bool, error)
	Put(ctx context.Context, profile models.UserProfile) error
	Invalidate(ctx context.Context, userID string) error
	Clear(ctx context.Context) error
}

// MemoryProfileCache is a per-process ProfileCache.
type MemoryProfileCache struct {
	entries *cache.TTLCache[string, models.UserProfile]
	ttl     time.Duration
	metrics *MetricsService
}

// NewMemoryProfileCache constructs an in-memory profile cache.
func NewMemoryProfileCache(ttl time.Duration, metrics *MetricsService) *MemoryProfileCache {
	return &MemoryProfileCache{entries: cache.NewTTLCache[string, models.UserProfile](nil), ttl: ttl, metrics: metrics}
}

func (c *MemoryProfileCache) Get(_ context.Context, userID string) (models.UserProfile, bool, error) {
	start := time.Now()
	entry, ok := c.entries.Get(userID)
	c.metrics.RecordCacheOperation(ok, time.Since(start))
	return entry.Value, ok, nil
}

func (c *MemoryProfileCache) Put(_ context.Context, profile models.UserProfile) error {
	c.entries.Put(profile.UserID, profile, c.ttl)
	return nil
}

func (c *MemoryProfileCache) Invalidate(_ context.Context, userID string) error {
	c.entries.Invalidate(userID)
	return nil
}

func (c *MemoryProfileCache) Clear(context.Context) error {
	c.entries.Clear()
	return nil
}

// RedisProfileCache shares profiles between instances through CacheService.
type RedisProfileCache struct {
	cache *CacheService
	ttl   time.Duration
}

// NewRedisProfileCache constructs a Redis-backed profile cache.
func NewRedisProfileCache(cache *CacheService, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{cache: cache, ttl: ttl}
}

func profileKey(userID string) string {
	return "profile:" + userID
}

func (c *RedisProfileCache) Get(ctx context.Context, userID string) (models.UserProfile, bool, error) {
	var profile models.UserProfile
	hit, err := c.cache.Get(ctx, profileKey(userID), &profile)
	return profile, hit, err
}

func (c *RedisProfileCache) Put(ctx context.Context, profile models.UserProfile) error {
	return c.cache.Set(ctx, profileKey(profile.UserID), profile, c.ttl)
}

func (c *RedisProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.cache.Invalidate(ctx, profileKey(userID))
}

func (c *RedisProfileCache) Clear(ctx context.Context) error {
	return c.cache.Clear(ctx)
}
