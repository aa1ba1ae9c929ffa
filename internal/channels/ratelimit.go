package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EditRateLimiter spaces out message edits per chat, used by streaming
// updates so the platform's edit quota is never burned down. Safe for
// concurrent use; the lock is never held across I/O.
type EditRateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastEdit    map[string]time.Time
	now         func() time.Time // test seam
}

func NewEditRateLimiter(minInterval time.Duration) *EditRateLimiter {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &EditRateLimiter{
		minInterval: minInterval,
		lastEdit:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Check reports whether an edit may go out now, recording the attempt
// only when allowed.
func (r *EditRateLimiter) Check(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if last, ok := r.lastEdit[chatID]; ok && now.Sub(last) < r.minInterval {
		return false
	}
	r.lastEdit[chatID] = now
	return true
}

// Backoff is called when the upstream throttled us: it shifts the
// chat's window forward so the next Check within minInterval fails.
func (r *EditRateLimiter) Backoff(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.now()
	if last, ok := r.lastEdit[chatID]; ok && last.After(base) {
		base = last
	}
	r.lastEdit[chatID] = base.Add(r.minInterval)
}

const (
	// maxTrackedKeys caps tracked webhook sources so rotating keys
	// cannot exhaust memory.
	maxTrackedKeys = 4096

	webhookRatePerSecond = 0.5 // 30 per minute
	webhookBurst         = 10
)

// WebhookRateLimiter bounds inbound webhook traffic per source key.
// Safe for concurrent use.
type WebhookRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether the key is within its rate budget.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		if len(r.limiters) >= maxTrackedKeys {
			// Hard eviction, FIFO-ish via map iteration.
			for k := range r.limiters {
				delete(r.limiters, k)
				break
			}
		}
		lim = rate.NewLimiter(rate.Limit(webhookRatePerSecond), webhookBurst)
		r.limiters[key] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}
