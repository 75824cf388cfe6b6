package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/domain"
)

// HostLimiter spaces requests to the same host by at least an interval.
// All limiter arithmetic runs on the injected clock.
type HostLimiter struct {
	mu       sync.Mutex
	hosts    map[string]*hostState
	interval time.Duration
	clock    clock.Clock
}

type hostState struct {
	limiter  *rate.Limiter
	interval time.Duration
	lastUsed time.Time
}

// NewHostLimiter builds a limiter with the default per-host interval.
func NewHostLimiter(interval time.Duration, clk clock.Clock) *HostLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HostLimiter{hosts: map[string]*hostState{}, interval: interval, clock: clk}
}

// Wait suspends the caller until host may be contacted again. A longer crawl delay
// from robots.txt widens the interval. If the slot lies beyond deadline the wait is
// not started and ErrFetchTimeout is returned.
func (h *HostLimiter) Wait(ctx context.Context, host string, crawlDelay time.Duration, deadline time.Time) error {
	interval := h.interval
	if crawlDelay > interval {
		interval = crawlDelay
	}
	if interval <= 0 {
		return nil
	}

	h.mu.Lock()
	now := h.clock.Now()
	key := strings.ToLower(host)
	st, ok := h.hosts[key]
	if !ok {
		st = &hostState{limiter: rate.NewLimiter(rate.Every(interval), 1), interval: interval}
		h.hosts[key] = st
	} else if interval > st.interval {
		st.limiter.SetLimitAt(now, rate.Every(interval))
		st.interval = interval
	}
	res := st.limiter.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if now.Add(delay).After(deadline) {
		res.CancelAt(now)
		h.mu.Unlock()
		return domain.ErrFetchTimeout
	}
	st.lastUsed = now.Add(delay)
	h.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	select {
	case <-h.clock.After(delay):
		return nil
	case <-ctx.Done():
		res.CancelAt(h.clock.Now())
		return ctx.Err()
	}
}

// Prune forgets hosts that were not contacted for idle.
func (h *HostLimiter) Prune(idle time.Duration) int {
	cutoff := h.clock.Now().Add(-idle)
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for host, st := range h.hosts {
		if st.lastUsed.Before(cutoff) {
			delete(h.hosts, host)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked hosts.
func (h *HostLimiter) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hosts)
}
