// Package ratelimit throttles API callers with token buckets. The
// in-memory store serves a single node; the Redis store shares buckets
// across replicas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy defines a caller's request budget.
type Policy struct {
	// RPM is the sustained allowance in requests per minute.
	RPM int
	// Burst is the bucket capacity.
	Burst int
}

// RetryAfterSeconds suggests a client backoff for a denied request.
func (p Policy) RetryAfterSeconds() int {
	if p.RPM <= 0 {
		return 1
	}
	retry := 60 / p.RPM
	if retry < 1 {
		retry = 1
	}
	return retry
}

// Store abstracts the bucket storage.
type Store interface {
	// Allow reports whether actorID may spend cost tokens under policy.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// TokenBucket is a thread-safe token bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) Allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = tb.tokens + elapsed*tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// InMemoryStore keeps per-actor buckets in process memory.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*TokenBucket)}
}

func (s *InMemoryStore) Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tb, exists := s.buckets[actorID]
	if !exists {
		rate := float64(policy.RPM) / 60.0
		if rate <= 0 {
			rate = 1
		}
		tb = NewTokenBucket(rate, policy.Burst)
		s.buckets[actorID] = tb
	}

	return tb.Allow(cost), nil
}
