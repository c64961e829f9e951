package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client)
}

func TestRedisStore_GetSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}
}

func TestRedisStore_SetTTLExpire(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewFromClient(client)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	exists, err := s.Exists(ctx, "k")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true, nil", exists, err)
	}

	// miniredis ages TTLs only through FastForward, not on wall-clock time.
	mr.FastForward(100 * time.Millisecond)
	exists, err = s.Exists(ctx, "k")
	if err != nil || exists {
		t.Fatalf("Exists() after TTL = %v, %v, want false, nil", exists, err)
	}
}

func TestRedisStore_DelIncr(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Incr(ctx, "counter")
	if err != nil || n != 1 {
		t.Fatalf("Incr() = %d, %v, want 1, nil", n, err)
	}
	n, err = s.Incr(ctx, "counter")
	if err != nil || n != 2 {
		t.Fatalf("Incr() = %d, %v, want 2, nil", n, err)
	}

	if err := s.Del(ctx, "counter"); err != nil {
		t.Fatalf("Del() error: %v", err)
	}
	exists, _ := s.Exists(ctx, "counter")
	if exists {
		t.Error("Exists() after Del() = true, want false")
	}

	if err := s.Del(ctx); err != nil {
		t.Errorf("Del() with no keys should be a no-op, got error: %v", err)
	}
}

func TestRedisStore_Hash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.HSet(ctx, "h", "f1", "v1"); err != nil {
		t.Fatalf("HSet() error: %v", err)
	}
	if err := s.HSet(ctx, "h", "f2", "v2"); err != nil {
		t.Fatalf("HSet() error: %v", err)
	}

	v, err := s.HGet(ctx, "h", "f1")
	if err != nil || v != "v1" {
		t.Fatalf("HGet() = %q, %v, want v1, nil", v, err)
	}

	if _, err := s.HGet(ctx, "h", "missing"); err != ErrNotFound {
		t.Fatalf("HGet(missing field) err = %v, want ErrNotFound", err)
	}

	all, err := s.HGetAll(ctx, "h")
	if err != nil {
		t.Fatalf("HGetAll() error: %v", err)
	}
	if all["f1"] != "v1" || all["f2"] != "v2" {
		t.Errorf("HGetAll() = %v, want f1=v1 f2=v2", all)
	}

	if err := s.HDel(ctx, "h", "f1"); err != nil {
		t.Fatalf("HDel() error: %v", err)
	}
	if _, err := s.HGet(ctx, "h", "f1"); err != ErrNotFound {
		t.Errorf("HGet() after HDel() err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_SortedSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ZAdd(ctx, "z", 1, "a"); err != nil {
		t.Fatalf("ZAdd() error: %v", err)
	}
	if err := s.ZAdd(ctx, "z", 2, "b"); err != nil {
		t.Fatalf("ZAdd() error: %v", err)
	}
	if err := s.ZAdd(ctx, "z", 3, "c"); err != nil {
		t.Fatalf("ZAdd() error: %v", err)
	}

	card, err := s.ZCard(ctx, "z")
	if err != nil || card != 3 {
		t.Fatalf("ZCard() = %d, %v, want 3, nil", card, err)
	}

	members, err := s.ZRange(ctx, "z", 0, -1)
	if err != nil {
		t.Fatalf("ZRange() error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(members) != len(want) {
		t.Fatalf("ZRange() = %v, want %v", members, want)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("ZRange()[%d] = %q, want %q", i, members[i], want[i])
		}
	}

	if err := s.ZRem(ctx, "z", "b"); err != nil {
		t.Fatalf("ZRem() error: %v", err)
	}
	card, _ = s.ZCard(ctx, "z")
	if card != 2 {
		t.Errorf("ZCard() after ZRem = %d, want 2", card)
	}

	if err := s.ZRemRangeByScore(ctx, "z", negInf, 1); err != nil {
		t.Fatalf("ZRemRangeByScore() error: %v", err)
	}
	card, _ = s.ZCard(ctx, "z")
	if card != 1 {
		t.Errorf("ZCard() after ZRemRangeByScore = %d, want 1", card)
	}
}

func TestRedisStore_Eval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Eval(ctx, `return redis.call("SET", KEYS[1], ARGV[1])`, []string{"ek"}, "ev")
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if res != "OK" {
		t.Errorf("Eval() = %v, want OK", res)
	}

	got, err := s.Get(ctx, "ek")
	if err != nil || got != "ev" {
		t.Fatalf("Get() after Eval = %q, %v, want ev, nil", got, err)
	}
}

func TestFormatScore(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"neg inf", negInf, "-inf"},
		{"pos inf", posInf, "+inf"},
		{"zero", 0, "0"},
		{"whole", 42, "42"},
		{"fractional", 1.5, "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatScore(tt.in); got != tt.want {
				t.Errorf("formatScore(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
