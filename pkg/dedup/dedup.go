// Package dedup collapses near-simultaneous escalation triggers for one subject
// into a single escalation event. The marker is a keyed conditional write
// (subject + time bucket) so it survives process restarts and works across
// parallel instances; an in-memory guard takes over when redis is unavailable.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Guard answers "am I the first trigger in this debounce window?".
type Guard interface {
	// Acquire returns true exactly once per (subjectID, bucket). The returned
	// key doubles as the incident idempotency key.
	Acquire(ctx context.Context, subjectID string, at time.Time) (bool, string, error)
}

// BucketKey derives the deterministic escalation key for a subject and instant.
// Two triggers inside the same window share a key and therefore one incident.
func BucketKey(subjectID string, at time.Time, window time.Duration) string {
	bucket := at.Unix() / int64(window.Seconds())
	return fmt.Sprintf("esc:%s:%d", subjectID, bucket)
}

// RedisGuard is the production guard: SETNX with the debounce window as TTL.
type RedisGuard struct {
	rdb    *redis.Client
	window time.Duration
	local  *LocalGuard // fallback when redis is down
}

// NewRedisGuard wires the distributed guard. rdb may be nil; every call then
// falls through to the local guard.
func NewRedisGuard(rdb *redis.Client, window time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, window: window, local: NewLocalGuard(window)}
}

func (g *RedisGuard) Acquire(ctx context.Context, subjectID string, at time.Time) (bool, string, error) {
	key := BucketKey(subjectID, at, g.window)
	if g.rdb == nil {
		ok, _, err := g.local.Acquire(ctx, subjectID, at)
		return ok, key, err
	}
	// TTL of two windows keeps the marker alive across the bucket boundary for
	// triggers racing right at the edge.
	ok, err := g.rdb.SetNX(ctx, key, at.Unix(), 2*g.window).Result()
	if err != nil {
		ok, _, lerr := g.local.Acquire(ctx, subjectID, at)
		return ok, key, lerr
	}
	return ok, key, nil
}

// LocalGuard is the single-process fallback. Same bucket math, no durability.
type LocalGuard struct {
	window time.Duration
	mu     sync.Mutex
	seen   map[string]time.Time
}

func NewLocalGuard(window time.Duration) *LocalGuard {
	return &LocalGuard{window: window, seen: make(map[string]time.Time)}
}

func (g *LocalGuard) Acquire(_ context.Context, subjectID string, at time.Time) (bool, string, error) {
	key := BucketKey(subjectID, at, g.window)
	g.mu.Lock()
	defer g.mu.Unlock()
	// Opportunistic cleanup of stale buckets.
	for k, t := range g.seen {
		if at.Sub(t) > 2*g.window {
			delete(g.seen, k)
		}
	}
	if _, dup := g.seen[key]; dup {
		return false, key, nil
	}
	g.seen[key] = at
	return true, key, nil
}
