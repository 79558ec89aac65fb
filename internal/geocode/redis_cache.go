package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/casaops/harvester/internal/listing"
)

const (
	// redisKeyPrefix namespaces geocode cache entries.
	redisKeyPrefix = "harvester:geocode:"
	// DefaultCacheTTL is how long cached coordinates stay valid.
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// cachedCoords is the stored shape; Resolved distinguishes a negative
// entry from a missing key.
type cachedCoords struct {
	Resolved bool                 `json:"resolved"`
	Coords   *listing.Coordinates `json:"coords,omitempty"`
}

// RedisCache is a Cache shared across runs via Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache over an existing client. Zero ttl means
// DefaultCacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(location string) string {
	return redisKeyPrefix + strings.ToLower(strings.TrimSpace(location))
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, location string) (*listing.Coordinates, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(location)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read geocode cache: %w", err)
	}

	var cached cachedCoords
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to decode geocode cache entry: %w", err)
	}
	return cached.Coords, true, nil
}

// Set implements Cache. A nil coords value is stored as a negative entry
// so unresolvable locations are not retried every run.
func (c *RedisCache) Set(ctx context.Context, location string, coords *listing.Coordinates) error {
	data, err := json.Marshal(cachedCoords{Resolved: coords != nil, Coords: coords})
	if err != nil {
		return fmt.Errorf("failed to encode geocode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(location), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return nil
}
