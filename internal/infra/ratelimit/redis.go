package ratelimit

import (
	"context"
	"fmt"
	"time"

	"dispatchly/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

var _ notification.RateLimiter = (*RedisLimiter)(nil)

// RedisLimiter enforces the configured rate ceilings with fixed window
// counters shared across all worker processes. Each window is a Redis
// counter keyed by its aligned start; INCR on the first hit creates it and
// EXPIRE bounds its lifetime.
//
// Fixed windows admit up to 2x the ceiling across a window boundary. That
// is accepted for O(1) state per key; the per-user minute plus hourly
// ceilings keep the worst case bounded.
type RedisLimiter struct {
	client *redis.Client
	limits notification.RateLimits
}

// NewRedisLimiter creates a Redis-backed fixed window rate limiter.
func NewRedisLimiter(redisAddr, password string, db int, limits notification.RateLimits) *RedisLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiter{client: client, limits: limits}
}

type windowSpec struct {
	key    string
	length time.Duration
	limit  int
	scope  string
}

func (r *RedisLimiter) windows(recipientID string, now time.Time) []windowSpec {
	var specs []windowSpec
	add := func(scope, bucket string, length time.Duration, limit int) {
		if limit <= 0 {
			return
		}
		start := now.Truncate(length).Unix()
		specs = append(specs, windowSpec{
			key:    fmt.Sprintf("dispatchly:rl:%s:%s:%d", bucket, scope, start),
			length: length,
			limit:  limit,
			scope:  scope,
		})
	}

	add("per_user", recipientID+":minute", time.Minute, r.limits.PerUserPerMinute)
	add("per_user", recipientID+":hour", time.Hour, r.limits.PerUserPerHour)
	add("per_user", recipientID+":day", 24*time.Hour, r.limits.PerUserPerDay)
	add("global", "global:second", time.Second, r.limits.GlobalPerSecond)
	add("global", "global:minute", time.Minute, r.limits.GlobalPerMinute)
	return specs
}

// TryAcquire atomically consumes weight units from every applicable window,
// or none. A denial reports the scope and the wait until the most distant
// exhausted window resets.
func (r *RedisLimiter) TryAcquire(ctx context.Context, recipientID string, weight int) (notification.Admission, error) {
	if weight <= 0 {
		weight = 1
	}
	now := time.Now()
	specs := r.windows(recipientID, now)
	if len(specs) == 0 {
		return notification.Admission{Allowed: true}, nil
	}

	// Increment every window in one round trip, then roll back if any
	// ceiling was crossed. All-or-nothing: a denied request consumes no
	// quota anywhere.
	pipe := r.client.Pipeline()
	incrs := make([]*redis.IntCmd, len(specs))
	for i, spec := range specs {
		incrs[i] = pipe.IncrBy(ctx, spec.key, int64(weight))
		pipe.Expire(ctx, spec.key, spec.length+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return notification.Admission{}, fmt.Errorf("incrementing rate limit counters: %w", err)
	}

	var worst notification.Admission
	worst.Allowed = true
	for i, spec := range specs {
		if incrs[i].Val() > int64(spec.limit) {
			wait := spec.length - now.Sub(now.Truncate(spec.length))
			if worst.Allowed || wait > worst.RetryAfter {
				worst = notification.Admission{Scope: spec.scope, RetryAfter: wait}
			}
		}
	}
	if worst.Allowed {
		return worst, nil
	}

	rollback := r.client.Pipeline()
	for _, spec := range specs {
		rollback.DecrBy(ctx, spec.key, int64(weight))
	}
	if _, err := rollback.Exec(ctx); err != nil {
		return notification.Admission{}, fmt.Errorf("rolling back rate limit counters: %w", err)
	}
	return worst, nil
}

// Close closes the Redis connection.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
