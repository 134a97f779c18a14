package notification

import (
	"context"
	"sync"
	"time"
)

// Admission is the result of a rate limit check. When not allowed, RetryAfter
// is the earliest duration after which the most constraining window will have
// headroom again.
type Admission struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration
}

// RateLimiter admits or rejects a send attempt against per-user and global
// ceilings. Acquiring is all-or-nothing: either every applicable counter is
// incremented, or none is.
type RateLimiter interface {
	TryAcquire(ctx context.Context, recipientID string, weight int) (Admission, error)
}

// RateLimits holds the configured ceilings. Zero means unlimited for that
// window.
type RateLimits struct {
	PerUserPerMinute int
	PerUserPerHour   int
	PerUserPerDay    int
	GlobalPerSecond  int
	GlobalPerMinute  int
}

// window is one fixed counting window.
//
// Fixed windows trade edge-burst precision for O(1) space per key: up to
// 2x the ceiling can pass in a span straddling a window boundary. Accepted
// tradeoff, documented in the tests.
type window struct {
	length time.Duration
	limit  int
	start  time.Time
	count  int
}

// roll lazily resets the window if now has passed its end. No background
// sweep; counters reset on first access past expiry.
func (w *window) roll(now time.Time) {
	if w.start.IsZero() || !now.Before(w.start.Add(w.length)) {
		w.start = now.Truncate(w.length)
		w.count = 0
	}
}

// headroom reports whether weight more sends fit, and if not, when the
// window reopens.
func (w *window) headroom(now time.Time, weight int) (bool, time.Duration) {
	if w.limit <= 0 {
		return true, 0
	}
	w.roll(now)
	if w.count+weight <= w.limit {
		return true, 0
	}
	return false, w.start.Add(w.length).Sub(now)
}

type userWindows struct {
	mu      sync.Mutex
	windows []*window // minute, hour, day
}

// FixedWindowLimiter is the in-process RateLimiter: fixed windows keyed by
// (scope, window), per-user entries independently locked so unrelated
// recipients contend only on the global counters they genuinely share.
type FixedWindowLimiter struct {
	limits RateLimits
	now    func() time.Time

	gmu    sync.Mutex
	global []*window // second, minute

	umu   sync.RWMutex
	users map[string]*userWindows
}

var _ RateLimiter = (*FixedWindowLimiter)(nil)

// NewFixedWindowLimiter creates an in-memory fixed-window rate limiter.
func NewFixedWindowLimiter(limits RateLimits) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		limits: limits,
		now:    time.Now,
		global: []*window{
			{length: time.Second, limit: limits.GlobalPerSecond},
			{length: time.Minute, limit: limits.GlobalPerMinute},
		},
		users: make(map[string]*userWindows),
	}
}

// withClock overrides the time source. Tests only.
func (l *FixedWindowLimiter) withClock(now func() time.Time) *FixedWindowLimiter {
	l.now = now
	return l
}

func (l *FixedWindowLimiter) user(recipientID string) *userWindows {
	l.umu.RLock()
	uw, ok := l.users[recipientID]
	l.umu.RUnlock()
	if ok {
		return uw
	}

	l.umu.Lock()
	defer l.umu.Unlock()
	if uw, ok = l.users[recipientID]; ok {
		return uw
	}
	uw = &userWindows{
		windows: []*window{
			{length: time.Minute, limit: l.limits.PerUserPerMinute},
			{length: time.Hour, limit: l.limits.PerUserPerHour},
			{length: 24 * time.Hour, limit: l.limits.PerUserPerDay},
		},
	}
	l.users[recipientID] = uw
	return uw
}

// TryAcquire admits the attempt only if every applicable counter has
// headroom, then increments them all under the held locks so no partial
// increment is ever visible. On rejection it reports the longest wait among
// the constraining windows.
func (l *FixedWindowLimiter) TryAcquire(_ context.Context, recipientID string, weight int) (Admission, error) {
	if weight <= 0 {
		weight = 1
	}
	now := l.now()

	uw := l.user(recipientID)
	uw.mu.Lock()
	defer uw.mu.Unlock()
	l.gmu.Lock()
	defer l.gmu.Unlock()

	var (
		worstWait  time.Duration
		worstScope string
	)
	for _, w := range uw.windows {
		if ok, wait := w.headroom(now, weight); !ok && wait > worstWait {
			worstWait, worstScope = wait, "per_user"
		}
	}
	for _, w := range l.global {
		if ok, wait := w.headroom(now, weight); !ok && wait > worstWait {
			worstWait, worstScope = wait, "global"
		}
	}
	if worstScope != "" {
		return Admission{Allowed: false, Scope: worstScope, RetryAfter: worstWait}, nil
	}

	for _, w := range uw.windows {
		if w.limit > 0 {
			w.count += weight
		}
	}
	for _, w := range l.global {
		if w.limit > 0 {
			w.count += weight
		}
	}
	return Admission{Allowed: true}, nil
}
