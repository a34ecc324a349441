package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates requests to a single host class.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RingLimiter enforces a windowed quota (e.g., 600 requests per 5 minutes)
// with a timestamp ring. Companies House publishes its limit this way rather
// than as a per-second rate.
type RingLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	idx    int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRingLimiter creates a limiter permitting n requests per window.
func NewRingLimiter(n int, window time.Duration) *RingLimiter {
	return &RingLimiter{
		stamps: make([]time.Time, n),
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until a slot inside the window is free.
func (r *RingLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	oldest := r.stamps[r.idx]
	now := r.now()
	var wait time.Duration
	if !oldest.IsZero() {
		if elapsed := now.Sub(oldest); elapsed < r.window {
			wait = r.window - elapsed
		}
	}
	if wait > 0 {
		r.mu.Unlock()
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
		r.mu.Lock()
		now = r.now()
	}
	r.stamps[r.idx] = now
	r.idx = (r.idx + 1) % len(r.stamps)
	r.mu.Unlock()
	return nil
}

// LimiterRegistry hands out per-host limiters. Creation is lazy and
// idempotent; the registry is shared process-wide across goroutines.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
	fallback func() Limiter
}

// NewLimiterRegistry builds the default per-host limiter set: SEC hosts are
// throttled to 10 req/s sliding, Companies House to 600 req / 5 min.
func NewLimiterRegistry() *LimiterRegistry {
	reg := &LimiterRegistry{
		limiters: make(map[string]Limiter),
		fallback: func() Limiter { return rate.NewLimiter(20, 20) },
	}
	for host := range secHosts {
		reg.limiters[host] = rate.NewLimiter(10, 10)
	}
	chLimiter := NewRingLimiter(600, 5*time.Minute)
	reg.limiters[chAPIHost] = chLimiter
	reg.limiters[chDocumentHost] = chLimiter
	return reg
}

// For returns the limiter for host, creating a default one on first use.
func (r *LimiterRegistry) For(host string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[host]; ok {
		return lim
	}
	lim := r.fallback()
	r.limiters[host] = lim
	return lim
}
