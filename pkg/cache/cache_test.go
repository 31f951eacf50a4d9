package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache(WithMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "seed:gold", [][]float64{{1, 2}, {3, 4}}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got [][]float64
	if err := mc.Get(ctx, "seed:gold", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got[1][1] != 4 {
		t.Fatalf("unexpected value %v", got)
	}

	var s string
	_ = mc.Set(ctx, "raw", "hello", 0)
	if err := mc.Get(ctx, "raw", &s); err != nil || s != "hello" {
		t.Fatalf("string get: %q %v", s, err)
	}
}

func TestMemoryCacheMissAndExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	var v int
	if err := mc.Get(ctx, "nope", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	_ = mc.Set(ctx, "short", 1, time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	if ok, _ := mc.Exists(ctx, "short"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	mc := NewMemoryCache(WithMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", 1, 0)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "b", 2, 0)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "c", 3, 0)

	if ok, _ := mc.Exists(ctx, "a"); ok {
		t.Fatalf("expected a to be evicted")
	}
	if ok, _ := mc.Exists(ctx, "b", "c"); !ok {
		t.Fatalf("expected b and c to remain")
	}
}

func TestGenerateKey(t *testing.T) {
	if got := GenerateKey("seed", "equity", "AAPL"); got != "seed:equity:AAPL" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := GenerateKey("seed", "gold", ""); got != "seed:gold" {
		t.Fatalf("unexpected key %s", got)
	}
}
