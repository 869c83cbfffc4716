package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/medcare-hms/medcare/internal/observability"
)

const statsVersionKey = "billing:stats:version"

// StatsCache wraps Redis based caching of billing stats with versioning
// controls. A nil StatsCache always loads.
type StatsCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
	group   singleflight.Group
}

// NewStatsCache instantiates the cache helper.
func NewStatsCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *StatsCache {
	return &StatsCache{client: client, ttl: ttl, metrics: metrics}
}

func (c *StatsCache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *StatsCache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, statsVersionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, statsVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, statsVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *StatsCache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if !c.enabled() {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchStats loads cached stats or populates them using the loader.
// Concurrent misses on one key share a single load.
func (c *StatsCache) FetchStats(ctx context.Context, key string, loader func(context.Context) (Stats, error)) (Stats, error) {
	if loader == nil {
		return Stats{}, errors.New("cache: loader required")
	}
	if !c.enabled() {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var stats Stats
		if err := json.Unmarshal(payload, &stats); err == nil {
			c.metrics.ObserveStatsCache(true)
			return stats, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}
	c.metrics.ObserveStatsCache(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		stats, err := loader(ctx)
		if err != nil {
			return Stats{}, err
		}
		if err := c.Store(ctx, key, stats); err != nil {
			return Stats{}, err
		}
		return stats, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

// Store writes stats under key with the configured TTL.
func (c *StatsCache) Store(ctx context.Context, key string, stats Stats) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Bump invalidates cached stats by incrementing the version. Keys built
// under the old version expire with their TTL.
func (c *StatsCache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, statsVersionKey).Err()
}
