package bandwidth

import (
	"context"
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	cases := []struct {
		in, want uint64
	}{
		{Unlimited, Unlimited},
		{1, MinLimit},
		{5119, MinLimit},
		{5120, 5120},
		{100000, 100000},
	}
	for _, c := range cases {
		if got := Clamp(c.in); got != c.want {
			t.Errorf("Clamp(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestLimiter_UnlimitedPassesImmediately(t *testing.T) {
	l := NewLimiter(Unlimited)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := l.WaitN(ctx, 10<<20); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("unlimited limiter should not block")
	}
}

func TestLimiter_FloorClamped(t *testing.T) {
	l := NewLimiter(1)
	if l.Limit() != MinLimit {
		t.Errorf("expected floor %d, got %d", MinLimit, l.Limit())
	}
}

func TestLimiter_SetLimitLive(t *testing.T) {
	l := NewLimiter(8000)
	l.SetLimit(20000)
	if l.Limit() != 20000 {
		t.Errorf("expected 20000, got %d", l.Limit())
	}
	l.SetLimit(Unlimited)
	if l.Limit() != Unlimited {
		t.Errorf("expected unlimited, got %d", l.Limit())
	}
}

func TestLimiter_LargeRequestSplit(t *testing.T) {
	// Request exceeds one second's budget; WaitN must split instead of
	// erroring on burst overflow.
	l := NewLimiter(MinLimit)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.WaitN(ctx, int(MinLimit)*3)
	if err == nil {
		t.Fatal("expected context deadline while throttled")
	}
}

func TestLimiter_ContextCancel(t *testing.T) {
	l := NewLimiter(MinLimit)
	// Exhaust the burst.
	_ = l.WaitN(context.Background(), int(MinLimit))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.WaitN(ctx, 1024); err == nil {
		t.Error("cancelled wait must error")
	}
}

func TestTiered_EffectiveIsMin(t *testing.T) {
	instance := NewLimiter(10000)
	server := NewLimiter(8000)
	transfer := NewLimiter(20000)

	tiered := NewTiered(instance, server, transfer)
	if got := tiered.Effective(); got != 8000 {
		t.Errorf("expected effective 8000, got %d", got)
	}

	// A live limit change re-evaluates immediately.
	server.SetLimit(Unlimited)
	if got := tiered.Effective(); got != 10000 {
		t.Errorf("expected effective 10000, got %d", got)
	}

	instance.SetLimit(Unlimited)
	transfer.SetLimit(Unlimited)
	if got := tiered.Effective(); got != Unlimited {
		t.Errorf("expected unlimited, got %d", got)
	}
}

func TestTiered_NilScopesSkipped(t *testing.T) {
	tiered := NewTiered(nil, NewLimiter(9000), nil)
	if got := tiered.Effective(); got != 9000 {
		t.Errorf("expected 9000, got %d", got)
	}
	if err := tiered.WaitN(context.Background(), 1); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestTiered_ThroughputBoundedByMin(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	// instance 10000, server 8000, transfer 20000: observed rate over the
	// window must not exceed the 8000 B/s scope.
	tiered := NewTiered(NewLimiter(10000), NewLimiter(8000), NewLimiter(20000))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	const chunk = 2000
	var moved int
	start := time.Now()
	for time.Since(start) < 1500*time.Millisecond {
		if err := tiered.WaitN(ctx, chunk); err != nil {
			break
		}
		moved += chunk
	}
	elapsed := time.Since(start).Seconds()

	// Initial burst credit allows up to one second's budget on top.
	maxBytes := int(8000*elapsed) + 8000
	if moved > maxBytes {
		t.Errorf("moved %d bytes in %.2fs, exceeds 8000 B/s bound (%d)", moved, elapsed, maxBytes)
	}
}
