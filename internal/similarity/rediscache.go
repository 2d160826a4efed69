package similarity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "darksun:sim:"

// RedisCache is a Cache backed by Redis, for deployments where several
// processes share one similarity cache. Keys are stored under the
// canonical pair ordering; no TTL is set, matching the permanent-cache
// policy of the SQLite backend.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis at the given URL and verifies the
// connection with a ping.
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, idA, idB string) (float64, bool, error) {
	val, err := c.client.Get(ctx, c.key(idA, idB)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read similarity from redis: %w", err)
	}
	score, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt similarity value %q: %w", val, err)
	}
	return score, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, idA, idB string, score float64) error {
	err := c.client.Set(ctx, c.key(idA, idB), strconv.FormatFloat(score, 'f', -1, 64), 0).Err()
	if err != nil {
		return fmt.Errorf("failed to write similarity to redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(idA, idB string) string {
	lo, hi := orderPair(idA, idB)
	return redisKeyPrefix + lo + ":" + hi
}
