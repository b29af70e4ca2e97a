// Package ratelimit throttles access-code attempts per caller (a chat id or
// a client IP).
package ratelimit

import (
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key. Idle buckets expire so the map
// does not grow without bound.
type Limiter struct {
	buckets *cache.Cache
	every   rate.Limit
	burst   int
}

func New(every rate.Limit, burst int, idle time.Duration) *Limiter {
	return &Limiter{
		buckets: cache.New(idle, 2*idle),
		every:   every,
		burst:   burst,
	}
}

// Default allows a burst of 5 attempts, then one every 10 seconds.
func Default() *Limiter {
	return New(rate.Every(10*time.Second), 5, 30*time.Minute)
}

func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Get(key); ok {
		l.buckets.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	b := rate.NewLimiter(l.every, l.burst)
	if err := l.buckets.Add(key, b, cache.DefaultExpiration); err != nil {
		// another caller created it first
		if v, ok := l.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return b
}
