package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClampSize(t *testing.T) {
	tests := []struct {
		cols, rows         int
		wantCols, wantRows int
	}{
		{120, 40, 120, 40},
		{0, 0, DefaultCols, DefaultRows},
		{-5, 30, DefaultCols, 30},
		{9999, 9999, MaxCols, MaxRows},
		{MaxCols, MaxRows, MaxCols, MaxRows},
		{1, 1, 1, 1},
	}
	for _, tt := range tests {
		c, r := clampSize(tt.cols, tt.rows)
		if c != tt.wantCols || r != tt.wantRows {
			t.Errorf("clampSize(%d, %d) = %d, %d; want %d, %d", tt.cols, tt.rows, c, r, tt.wantCols, tt.wantRows)
		}
	}
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(10, 5)
	rl.lastRefill = now
	rl.nowFn = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Fatalf("message %d should be allowed within burst", i)
		}
	}
	if rl.Allow() {
		t.Fatal("message beyond burst should be denied")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(10, 5)
	rl.lastRefill = now
	rl.nowFn = func() time.Time { return now }

	for rl.Allow() {
	}

	now = now.Add(200 * time.Millisecond) // 2 tokens at 10/s
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected two tokens after refill")
	}
	if rl.Allow() {
		t.Fatal("expected bucket to be empty again")
	}

	now = now.Add(time.Hour)
	allowed := 0
	for rl.Allow() {
		allowed++
	}
	if allowed != 5 {
		t.Errorf("refill should cap at burst: got %d, want 5", allowed)
	}
}

func TestRateLimiter_WaitBlocksUntilRefill(t *testing.T) {
	rl := NewRateLimiter(50, 1)
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("second Wait returned after %s, want about 20ms", elapsed)
	}
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want DeadlineExceeded", err)
	}
}
