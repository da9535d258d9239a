package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 2})

	if !l.Allow("billing") || !l.Allow("billing") {
		t.Fatal("expected burst of two to be admitted")
	}
	if l.Allow("billing") {
		t.Fatal("expected third submission to be rejected")
	}
	if !l.Allow("orders") {
		t.Fatal("orders should not be blocked by billing")
	}
	if !l.Allow(" Orders ") {
		t.Fatal("source names are case and space insensitive")
	}
	if l.Allow("ORDERS") {
		t.Fatal("expected normalized source to share the bucket")
	}
	if got := l.Sources(); got != 2 {
		t.Fatalf("Sources() = %d, want 2", got)
	}
}

func TestLimiter_Overrides(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   0.001,
		DefaultBurst: 1,
		Sources:      map[string]Rule{"Firehose": {RPS: 0}},
	})

	for i := 0; i < 100; i++ {
		if !l.Allow("firehose") {
			t.Fatalf("unlimited source rejected at %d", i)
		}
	}
	l.Allow("")
	if l.Allow("") {
		t.Fatal("empty source uses the default rule")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 1000; i++ {
		if !l.Allow("any") {
			t.Fatalf("unexpected rejection at %d", i)
		}
	}
}

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "billing"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "billing"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Wait(cancelled, "billing"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
