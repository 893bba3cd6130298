package clock

import (
	"sync"
	"testing"
	"time"
)

func TestTestClock(t *testing.T) {
	start := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)
	clk := NewTestClock(start)

	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	clk.Advance(25 * time.Minute)
	if got := clk.Now().Sub(start); got != 25*time.Minute {
		t.Errorf("elapsed after Advance = %v, want 25m", got)
	}

	later := start.Add(3 * time.Hour)
	clk.Set(later)
	if got := clk.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestTestClock_ConcurrentAdvance(t *testing.T) {
	start := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)
	clk := NewTestClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clk.Advance(time.Second)
				_ = clk.Now()
			}
		}()
	}
	wg.Wait()

	if got := clk.Now().Sub(start); got != 800*time.Second {
		t.Errorf("elapsed = %v, want 800s", got)
	}
}

func TestRealClock(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	if got.Before(before) || time.Since(got) > time.Minute {
		t.Errorf("RealClock.Now() = %v, not close to wall time %v", got, before)
	}
}
