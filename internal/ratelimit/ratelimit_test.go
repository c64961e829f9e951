package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatroom/internal/store"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(store.NewFromClient(client)), mr
}

func TestLimiter_AllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	rule := Rule{Limit: 3, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("Allow() call %d: Allowed = false, want true", i)
		}
		wantRemaining := rule.Limit - i - 1
		if res.Remaining != wantRemaining {
			t.Errorf("Allow() call %d: Remaining = %d, want %d", i, res.Remaining, wantRemaining)
		}
	}
}

func TestLimiter_DeniesOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	rule := Rule{Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, err := l.Allow(ctx, "k", rule); err != nil || !res.Allowed {
			t.Fatalf("Allow() call %d = %v, %v, want allowed", i, res, err)
		}
	}

	res, err := l.Allow(ctx, "k", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if res.Allowed {
		t.Fatal("Allow() 3rd call: Allowed = true, want false")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %d, want > 0", res.RetryAfter)
	}
}

func TestLimiter_DifferentKeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	rule := Rule{Limit: 1, Window: time.Minute}
	ctx := context.Background()

	if res, err := l.Allow(ctx, "a", rule); err != nil || !res.Allowed {
		t.Fatalf("Allow(a) = %v, %v, want allowed", res, err)
	}
	if res, err := l.Allow(ctx, "a", rule); err != nil || res.Allowed {
		t.Fatalf("Allow(a) 2nd call = %v, %v, want denied", res, err)
	}
	if res, err := l.Allow(ctx, "b", rule); err != nil || !res.Allowed {
		t.Fatalf("Allow(b) = %v, %v, want allowed (independent key)", res, err)
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l, mr := newTestLimiter(t)
	rule := Rule{Limit: 1, Window: 100 * time.Millisecond}
	ctx := context.Background()

	if res, err := l.Allow(ctx, "k", rule); err != nil || !res.Allowed {
		t.Fatalf("Allow() = %v, %v, want allowed", res, err)
	}
	if res, err := l.Allow(ctx, "k", rule); err != nil || res.Allowed {
		t.Fatalf("Allow() 2nd call = %v, %v, want denied", res, err)
	}

	// FastForward only ages miniredis TTLs; the window itself is measured
	// against the wall clock Allow passes in, so real time must pass too.
	mr.FastForward(200 * time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	res, err := l.Allow(ctx, "k", rule)
	if err != nil {
		t.Fatalf("Allow() after window error: %v", err)
	}
	if !res.Allowed {
		t.Error("Allow() after window expiry: Allowed = false, want true")
	}
}

func TestLimiter_AllowFailOpen(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	res := l.AllowFailOpen(context.Background(), "k", Rule{Limit: 1, Window: time.Minute})
	if !res.Allowed {
		t.Error("AllowFailOpen() on store failure: Allowed = false, want true")
	}
	if res.Remaining != -1 {
		t.Errorf("AllowFailOpen() Remaining = %d, want -1", res.Remaining)
	}
}
