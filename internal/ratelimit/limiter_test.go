package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T, mr *miniredis.Miniredis, limit int, window time.Duration) *RedisSlidingWindow {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewRedisSlidingWindow(client, "test:ratelimit", limit, window)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	return limiter
}

func TestRedisSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newRedisLimiter(t, mr, 2, time.Hour)
	if !limiter.Allow("ip-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow("ip-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow("ip-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow("ip-2") {
		t.Fatalf("other keys have their own quota")
	}
}

func TestRedisSlidingWindowKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewRedisSlidingWindow(client, " bookstore:ratelimit: ", 5, time.Hour)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !limiter.Allow("search|198.51.100.10") {
		t.Fatalf("first request should pass")
	}
	keys := mr.Keys()
	if len(keys) != 1 || keys[0] != "bookstore:ratelimit:search|198.51.100.10" {
		t.Fatalf("unexpected redis keys %v", keys)
	}
}

func TestRedisSlidingWindowSlides(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newRedisLimiter(t, mr, 1, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	if !limiter.Allow("ip-1") {
		t.Fatalf("first request should pass")
	}
	now = now.Add(30 * time.Second)
	if limiter.Allow("ip-1") {
		t.Fatalf("request inside window should be blocked")
	}
	now = now.Add(31 * time.Second)
	if !limiter.Allow("ip-1") {
		t.Fatalf("request after window should pass")
	}
}

func TestRedisSlidingWindowFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newRedisLimiter(t, mr, 1, time.Second)
	mr.Close()
	if limiter.Allow("ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestRedisSlidingWindowRequiresClient(t *testing.T) {
	limiter, err := NewRedisSlidingWindow(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for nil client")
	}
}

func TestMemorySlidingWindow(t *testing.T) {
	limiter, err := NewMemorySlidingWindow(2, time.Minute)
	if err != nil {
		t.Fatalf("new memory limiter: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("ip-1") || !limiter.Allow("ip-1") {
		t.Fatalf("first two requests should pass")
	}
	if limiter.Allow("ip-1") {
		t.Fatalf("third request should be blocked")
	}
	now = now.Add(61 * time.Second)
	if !limiter.Allow("ip-1") {
		t.Fatalf("window should have slid")
	}
}

func TestMemorySlidingWindowSweep(t *testing.T) {
	limiter, err := NewMemorySlidingWindow(1, time.Minute)
	if err != nil {
		t.Fatalf("new memory limiter: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	limiter.Allow("ip-1")
	now = now.Add(2 * time.Minute)
	limiter.Sweep()
	s := limiter.shardFor("ip-1")
	if _, ok := s.hits["ip-1"]; ok {
		t.Fatalf("expired key should be swept")
	}
}

func TestAllowAll(t *testing.T) {
	var l Limiter = AllowAll{}
	for i := 0; i < 5; i++ {
		if !l.Allow("x") {
			t.Fatalf("AllowAll must always allow")
		}
	}
}
