// Package ratelimit implements per client token bucket rate limiting.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle, full bucket is kept.
const staleAfter = 10 * time.Minute

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int           // requests per window
	Remaining  int           // requests left before throttling
	ResetAt    time.Time     // when the bucket is full again
	RetryAfter time.Duration // 0 when allowed
}

// Limiter keeps one token bucket per key. A Limiter created with zero
// requests allows everything.
type Limiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter returns a limiter refilling requests tokens per window, holding
// at most burst tokens.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		burst:   max(burst, 1),
		window:  window,
		buckets: map[string]*bucket{},
		stop:    make(chan struct{}),
	}
	if requests <= 0 {
		l.limit = rate.Inf
		return l
	}
	l.limit = rate.Limit(float64(requests) / window.Seconds())
	go l.cleanupLoop()
	return l
}

// Unlimited reports whether the limiter never throttles.
func (l *Limiter) Unlimited() bool {
	return l.limit == rate.Inf
}

func (l *Limiter) get(key string, create bool) *bucket {
	now := time.Now()
	if !create {
		l.mu.RLock()
		defer l.mu.RUnlock()
		return l.buckets[key]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) Result {
	if l.Unlimited() {
		return Result{Allowed: true}
	}
	b := l.get(key, true)
	now := time.Now()
	res := Result{Allowed: true, Limit: int(math.Round(float64(l.limit) * l.window.Seconds()))}
	r := b.limiter.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		res.Allowed = false
		res.RetryAfter = d
	}
	tokens := b.limiter.TokensAt(now)
	res.Remaining = max(int(tokens), 0)
	missing := float64(l.burst) - tokens
	res.ResetAt = now.Add(time.Duration(math.Ceil(missing / float64(l.limit) * float64(time.Second))))
	return res
}

// Exhausted reports whether the next Allow for key would be denied, without
// consuming a token.
func (l *Limiter) Exhausted(key string) bool {
	if l.Unlimited() {
		return false
	}
	b := l.get(key, false)
	return b != nil && b.limiter.Tokens() < 1
}

func (l *Limiter) cleanupLoop() {
	t := time.NewTicker(staleAfter)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.cleanup(time.Now())
		case <-l.stop:
			return
		}
	}
}

// cleanup forgets buckets that are idle and full.
func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > staleAfter && b.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
