package federation

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RateLimiter implements spec §4.3's sliding single-window admission
// control: each principal (actor URI, or host for per-host limiting) owns
// a (window-start, count) pair. CheckAndIncrement resets the window once
// it has fully elapsed, then admits or rejects.
//
// Grounded on the teacher's internal/server/server.go inboxLimiter
// (mutex+map per-origin counting). golang.org/x/time/rate was considered
// (it is present in the pack's go-fed-apcore and WAN-Ninjas-AmityVox
// go.mod files) and rejected: it implements a token bucket, which allows
// bursts a fixed-window counter would not, and would not satisfy Testable
// Property 5 ("over any window W with max M, admissions for a single
// principal are ≤ M") under the exact reset semantics spec §4.3 describes.
type RateLimiter struct {
	entries *xsync.MapOf[string, *rateEntry]
	window  time.Duration
	max     int
}

type rateEntry struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewRateLimiter builds a limiter with the given window and max admissions
// per window (spec defaults: 60s window, 100 max).
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	if max <= 0 {
		max = 100
	}
	return &RateLimiter{entries: xsync.NewMapOf[string, *rateEntry](), window: window, max: max}
}

// CheckAndIncrement admits or rejects a request from principal. Principal
// derivation is the caller's responsibility: spec §4.3 prefers per-actor
// (the verified actor URI) over per-host, since per-host limiting can
// starve legitimate multi-user instances sharing one domain.
func (r *RateLimiter) CheckAndIncrement(principal string) bool {
	entry, _ := r.entries.LoadOrCompute(principal, func() *rateEntry {
		return &rateEntry{windowStart: time.Now()}
	})

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := time.Now()
	if now.Sub(entry.windowStart) >= r.window {
		entry.windowStart = now
		entry.count = 0
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	return true
}

// PruneExpired removes entries whose window started more than 2x window
// ago, per spec §4.3.
func (r *RateLimiter) PruneExpired() {
	cutoff := 2 * r.window
	now := time.Now()
	r.entries.Range(func(key string, entry *rateEntry) bool {
		entry.mu.Lock()
		stale := now.Sub(entry.windowStart) >= cutoff
		entry.mu.Unlock()
		if stale {
			r.entries.Delete(key)
		}
		return true
	})
}

// Run starts the background pruning loop (spec §5: "rate-limiter pruning
// every ~5 min") and blocks until ctx is cancelled.
func (r *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PruneExpired()
		}
	}
}
