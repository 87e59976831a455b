package ratelimit

import (
	"sync"
	"time"
)

// KeyedLimiter keeps one token bucket per key, such as a client address.
// Buckets that have refilled completely are dropped by Sweep.
type KeyedLimiter struct {
	limiters   map[string]*TokenBucket
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	now        func() time.Time
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewKeyedLimiter creates a limiter. refillRate is in tokens per second.
func NewKeyedLimiter(maxTokens, refillRate float64) *KeyedLimiter {
	return &KeyedLimiter{
		limiters:   make(map[string]*TokenBucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
}

// WithClock replaces time.Now, for tests
func (l *KeyedLimiter) WithClock(now func() time.Time) *KeyedLimiter {
	l.now = now
	return l
}

// Allow takes one token from key's bucket
func (l *KeyedLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Exhausted reports whether key has no whole token left, without taking one
func (l *KeyedLimiter) Exhausted(key string) bool {
	l.mu.Lock()
	b, ok := l.limiters[key]
	l.mu.Unlock()

	return ok && b.Available() < 1
}

// Forget drops key's bucket
func (l *KeyedLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
}

// Len counts tracked keys
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedLimiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.limiters[key]
	if !exists {
		b = newTokenBucket(l.maxTokens, l.refillRate, l.now)
		l.limiters[key] = b
	}
	return b
}

// Sweep removes buckets that are full again
func (l *KeyedLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.limiters {
		if b.Full() {
			delete(l.limiters, key)
		}
	}
}

// StartCleanup sweeps on the given interval until Stop
func (l *KeyedLimiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-l.stopChan:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}
