package ratelimit

// Limiter decides whether one more request for key fits the quota.
type Limiter interface {
	Allow(key string) bool
}

// AllowAll never limits. Used when rate limiting is disabled.
type AllowAll struct{}

func (AllowAll) Allow(string) bool { return true }
