package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/deusflow/ottpulse/internal/logger"
)

// ErrBudgetExhausted is returned once the per-cycle request budget is spent.
var ErrBudgetExhausted = errors.New("extraction budget exhausted for this cycle")

// Limiter paces extraction requests and caps how many one cycle may issue.
type Limiter struct {
	limiter *rate.Limiter // nil means unpaced

	mu          sync.Mutex
	maxPerCycle int // 0 means unlimited
	used        int
	rejected    int
	cacheHits   int
	cacheMisses int
}

// New creates a limiter allowing rps requests per second (<= 0 disables
// pacing) and at most maxPerCycle requests per cycle (<= 0 disables the cap).
func New(rps float64, maxPerCycle int) *Limiter {
	l := &Limiter{maxPerCycle: maxPerCycle}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// Acquire reserves one request from the cycle budget and waits for the pacer.
// The reservation is returned if ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.maxPerCycle > 0 && l.used >= l.maxPerCycle {
		l.rejected++
		l.mu.Unlock()
		return ErrBudgetExhausted
	}
	l.used++
	l.cacheMisses++
	l.mu.Unlock()

	if l.limiter == nil {
		return ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		l.mu.Lock()
		l.used--
		l.cacheMisses--
		l.mu.Unlock()
		return err
	}
	return nil
}

// RecordCacheHit records an extraction served from cache.
func (l *Limiter) RecordCacheHit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cacheHits++
}

// ResetCycle restores the full budget. Called at the start of every cycle.
func (l *Limiter) ResetCycle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used > 0 || l.rejected > 0 {
		logger.Debug("Resetting extraction budget", "used", l.used, "rejected", l.rejected, "limit", l.maxPerCycle)
	}
	l.used = 0
	l.rejected = 0
}

// remaining reports the unused budget, or -1 when unlimited. l.mu must be held.
func (l *Limiter) remaining() int {
	if l.maxPerCycle <= 0 {
		return -1
	}
	return l.maxPerCycle - l.used
}

func (l *Limiter) cacheHitRate() float64 {
	total := l.cacheHits + l.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(l.cacheHits) / float64(total) * 100
}

// GetStats returns current limiter statistics.
func (l *Limiter) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rps float64
	if l.limiter != nil {
		rps = float64(l.limiter.Limit())
	}
	return map[string]interface{}{
		"requests_used":      l.used,
		"requests_limit":     l.maxPerCycle,
		"requests_remaining": l.remaining(),
		"requests_rejected":  l.rejected,
		"requests_per_sec":   rps,
		"cache_hits":         l.cacheHits,
		"cache_misses":       l.cacheMisses,
		"cache_hit_rate":     l.cacheHitRate(),
	}
}
