package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(5 * time.Second)
	if f.Waiters() != 1 {
		t.Fatalf("expected one waiter, got %d", f.Waiters())
	}

	f.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatalf("fired too early")
	default:
	}

	f.Advance(time.Second)
	select {
	case at := <-ch:
		if !at.Equal(start.Add(5 * time.Second)) {
			t.Fatalf("unexpected fire time %v", at)
		}
	default:
		t.Fatalf("expected waiter to fire")
	}
	if f.Waiters() != 0 {
		t.Fatalf("fired waiter should be removed")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	f := NewFake(time.Unix(0, 0))
	select {
	case <-f.After(0):
	default:
		t.Fatalf("zero duration must fire immediately")
	}
}

func TestFakeBlockUntil(t *testing.T) {
	t.Parallel()

	f := NewFake(time.Unix(0, 0))
	go func() {
		<-f.After(time.Minute)
	}()
	if !f.BlockUntil(1, time.Second) {
		t.Fatalf("waiter never registered")
	}
	f.Advance(time.Minute)
	if f.BlockUntil(1, 10*time.Millisecond) {
		t.Fatalf("waiter should be gone after advance")
	}
}
