package ratelimit

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const shardCount = 32

// MemorySlidingWindow is an in-process sliding-window log. Keys are spread
// over shards so unrelated clients do not contend on one lock.
type MemorySlidingWindow struct {
	limit  int
	window time.Duration
	shards [shardCount]shard
	now    func() time.Time
}

type shard struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemorySlidingWindow creates a per-process limiter.
func NewMemorySlidingWindow(limit int, window time.Duration) (*MemorySlidingWindow, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	l := &MemorySlidingWindow{limit: limit, window: window, now: time.Now}
	for i := range l.shards {
		l.shards[i].hits = make(map[string][]time.Time)
	}
	return l, nil
}

func (l *MemorySlidingWindow) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}

// Allow records the request and reports whether it fits the window.
func (l *MemorySlidingWindow) Allow(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.now()
	cutoff := now.Add(-l.window)
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	hits := prune(s.hits[key], cutoff)
	if len(hits) >= l.limit {
		s.hits[key] = hits
		return false
	}
	s.hits[key] = append(hits, now)
	return true
}

// Sweep drops keys with no hits inside the window.
func (l *MemorySlidingWindow) Sweep() {
	cutoff := l.now().Add(-l.window)
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, hits := range s.hits {
			if hits = prune(hits, cutoff); len(hits) == 0 {
				delete(s.hits, key)
			} else {
				s.hits[key] = hits
			}
		}
		s.mu.Unlock()
	}
}

// RunSweeper sweeps every interval until ctx is done.
func (l *MemorySlidingWindow) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
