package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bookstore/internal/util"
)

// Trims entries older than the window, then admits the request only while the
// remaining count is under the limit. Members are unique per request.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
  return 0
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return 1
`)

// RedisSlidingWindow limits requests per key over a rolling window shared by
// every process talking to the same Redis.
type RedisSlidingWindow struct {
	limit  int
	window time.Duration
	prefix string
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSlidingWindow creates a Redis-backed distributed limiter.
func NewRedisSlidingWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*RedisSlidingWindow, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "bookstore:ratelimit"
	}
	return &RedisSlidingWindow{
		limit:  limit,
		window: window,
		prefix: prefix,
		client: client,
		now:    time.Now,
	}, nil
}

// Allow returns true when the key is within quota.
// On Redis failures, it fails closed and returns false.
func (l *RedisSlidingWindow) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	res, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, util.NewID()).Int64()
	if err != nil {
		return false
	}
	return res == 1
}
