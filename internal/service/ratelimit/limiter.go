package ratelimit

import (
	"sync"
	"time"
)

// maxKeys bounds the bucket map; beyond it full buckets are dropped.
const maxKeys = 10000

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. A new key starts with a full bucket of
// capacity tokens, refilled at rate tokens per second.
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*bucket
	capacity float64
	rate     float64
	now      func() time.Time
}

func New(capacity, perSecond float64) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		m:        make(map[string]*bucket),
		capacity: capacity,
		rate:     perSecond,
		now:      time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		if len(l.m) >= maxKeys {
			l.pruneLocked(now)
		}
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	l.refill(b, now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns how long key must wait for the next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok || b.tokens >= 1 || l.rate <= 0 {
		return 0
	}
	return time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * l.rate
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.last = now
}

// pruneLocked drops buckets that have refilled completely.
func (l *Limiter) pruneLocked(now time.Time) {
	for k, b := range l.m {
		l.refill(b, now)
		if b.tokens >= l.capacity {
			delete(l.m, k)
		}
	}
}
