package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"RecipeAcquisition/internal/clock"
)

func TestIntervalSchedulerRunsImmediatelyAndOnEveryTick(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	s := NewIntervalScheduler(time.Minute, clk)

	var runs atomic.Int32
	if err := s.Start(context.Background(), func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	for want := int32(1); want <= 3; want++ {
		if !clk.BlockUntil(1, time.Second) {
			t.Fatalf("scheduler never waited for the next tick")
		}
		if got := runs.Load(); got != want {
			t.Fatalf("runs = %d, want %d", got, want)
		}
		clk.Advance(time.Minute)
	}
}

func TestIntervalSchedulerStartTwiceIsNoop(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := NewIntervalScheduler(time.Minute, clk)

	var runs atomic.Int32
	job := func(time.Time) { runs.Add(1) }
	_ = s.Start(context.Background(), job)
	_ = s.Start(context.Background(), job)
	clk.BlockUntil(1, time.Second)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestIntervalSchedulerIgnoresNonPositiveInterval(t *testing.T) {
	s := NewIntervalScheduler(0, nil)
	called := false
	if err := s.Start(context.Background(), func(time.Time) { called = true }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if called {
		t.Fatalf("job must not run without an interval")
	}
}
