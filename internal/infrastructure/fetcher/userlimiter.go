package fetcher

import (
	"context"
	"sync"
	"time"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
)

const anonymousUser = "anonymous"

// UserLimiter caps in-flight fetches per requesting user. Callers over the cap either
// wait in a bounded queue or fail fast, depending on mode.
type UserLimiter struct {
	mu        sync.Mutex
	users     map[string]*userSlots
	max       int
	mode      string
	maxQueued int
	clock     clock.Clock
}

type userSlots struct {
	sem    chan struct{}
	queued int
}

// NewUserLimiter builds a limiter; mode is config.OnLimitQueue or config.OnLimitFail.
func NewUserLimiter(max int, mode string, maxQueued int, clk clock.Clock) *UserLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	if max < 1 {
		max = 1
	}
	if mode != config.OnLimitFail {
		mode = config.OnLimitQueue
	}
	return &UserLimiter{users: map[string]*userSlots{}, max: max, mode: mode, maxQueued: maxQueued, clock: clk}
}

// Acquire takes a slot for user and returns its release func.
func (u *UserLimiter) Acquire(ctx context.Context, user string, deadline time.Time) (func(), error) {
	if user == "" {
		user = anonymousUser
	}

	u.mu.Lock()
	slots, ok := u.users[user]
	if !ok {
		slots = &userSlots{sem: make(chan struct{}, u.max)}
		u.users[user] = slots
	}
	release := func() { <-slots.sem }
	select {
	case slots.sem <- struct{}{}:
		u.mu.Unlock()
		return release, nil
	default:
	}
	if u.mode == config.OnLimitFail || slots.queued >= u.maxQueued {
		u.mu.Unlock()
		return nil, domain.ErrConcurrencyLimitExceeded
	}
	slots.queued++
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		slots.queued--
		u.mu.Unlock()
	}()

	wait := deadline.Sub(u.clock.Now())
	if wait <= 0 {
		return nil, domain.ErrFetchTimeout
	}
	select {
	case slots.sem <- struct{}{}:
		return release, nil
	case <-u.clock.After(wait):
		return nil, domain.ErrFetchTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// inFlight returns the number of slots held by user.
func (u *UserLimiter) inFlight(user string) int {
	if user == "" {
		user = anonymousUser
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if slots, ok := u.users[user]; ok {
		return len(slots.sem)
	}
	return 0
}

// Prune drops users with no held or queued slots.
func (u *UserLimiter) Prune() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	removed := 0
	for user, slots := range u.users {
		if len(slots.sem) == 0 && slots.queued == 0 {
			delete(u.users, user)
			removed++
		}
	}
	return removed
}
