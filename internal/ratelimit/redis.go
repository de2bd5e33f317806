package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lexintake.org/internal/ids"
)

// slidingScript keeps one sorted set per key scored by hit time in
// milliseconds. A hit is added only while the window has room.
var slidingScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1]) + 1
if count <= limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
end
local reset = now + window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {count, reset}
`)

// RedisCounter shares sliding windows across replicas.
type RedisCounter struct {
	client  redis.Scripter
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisCounter wraps client. Keys are stored under "rl:".
func NewRedisCounter(client redis.Scripter) *RedisCounter {
	return &RedisCounter{
		client:  client,
		prefix:  "rl:",
		timeout: 2 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, limit int, window time.Duration) (int64, time.Time, error) {
	if c == nil || c.client == nil {
		return 0, time.Time{}, errors.New("ratelimit: redis client not configured")
	}
	if window <= 0 {
		window = time.Minute
	}
	if limit < 0 {
		limit = 0
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now().UnixMilli()
	args := []interface{}{now, window.Milliseconds(), limit, ids.New()}
	res, err := slidingScript.Run(ctx, c.client, []string{c.prefix + key}, args...).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, time.Time{}, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}
	count, _ := vals[0].(int64)
	resetMs, ok := vals[1].(int64)
	if !ok {
		resetMs = now + window.Milliseconds()
	}
	return count, time.UnixMilli(resetMs).UTC(), nil
}
