// Package system exercises the real-time clock and sleeper adapters.
package system

import (
	"context"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestSleeperHonorsContext checks a canceled ctx releases the sleeper immediately.
func TestSleeperHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	NewSleeper().Sleep(ctx, 5*time.Second)
	if time.Since(start) > time.Second {
		t.Fatalf("sleep should exit immediately when context is done")
	}
}

// TestSleeperWaits checks a short sleep actually blocks.
func TestSleeperWaits(t *testing.T) {
	t.Parallel()

	start := time.Now()
	NewSleeper().Sleep(context.Background(), 20*time.Millisecond)
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected sleep of ~20ms, got %v", time.Since(start))
	}
}
