package scheduler

import (
	"context"
	"sync"
	"time"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/ports"
)

// IntervalScheduler runs a job once at start and then after every interval.
type IntervalScheduler struct {
	interval time.Duration
	clock    clock.Clock

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler ticking every interval on clk.
func NewIntervalScheduler(interval time.Duration, clk clock.Clock) *IntervalScheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &IntervalScheduler{interval: interval, clock: clk}
}

// Start begins ticking. Calling Start on a running scheduler is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil || s.interval <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	go func() {
		defer close(done)
		job(s.clock.Now())
		for {
			select {
			case t := <-s.clock.After(s.interval):
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticking goroutine and waits for a running job to return.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}

	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
