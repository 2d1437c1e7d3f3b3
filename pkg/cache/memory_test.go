package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryRoundTripsBytes(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"count":2,"signals":[]}`)
	if err := mc.Set(ctx, "signals:AAPL", payload, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got json.RawMessage
	if err := mc.Get(ctx, "signals:AAPL", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %s, want %s", got, payload)
	}

	// The cached copy must not alias the caller's slice.
	got[0] = 'X'
	var again json.RawMessage
	if err := mc.Get(ctx, "signals:AAPL", &again); err != nil {
		t.Fatalf("get again: %v", err)
	}
	if string(again) != string(payload) {
		t.Fatalf("cache mutated through caller slice: %s", again)
	}
}

func TestMemoryRoundTripsStructsViaJSON(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	type quote struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	}
	if err := mc.Set(ctx, "quote:MSFT", quote{Bid: 100.9, Ask: 101.1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got quote
	if err := mc.Get(ctx, "quote:MSFT", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Bid != 100.9 || got.Ask != 101.1 {
		t.Fatalf("got %+v", got)
	}
}

func TestMemoryMissAndExpiry(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	var s string
	if err := mc.Get(ctx, "absent", &s); err != ErrCacheMiss {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}

	if err := mc.Set(ctx, "short", "v", time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := mc.Get(ctx, "short", &s); err != ErrCacheMiss {
		t.Fatalf("expired err = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryEvictsLRU(t *testing.T) {
	mc := newTestCache(t, WithMemoryMaxSize(2))
	ctx := context.Background()

	if err := mc.Set(ctx, "a", "1", time.Minute); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := mc.Set(ctx, "b", "2", time.Minute); err != nil {
		t.Fatalf("set b: %v", err)
	}

	// Touch "a" so "b" is the eviction candidate.
	var s string
	if err := mc.Get(ctx, "a", &s); err != nil {
		t.Fatalf("get a: %v", err)
	}
	if err := mc.Set(ctx, "c", "3", time.Minute); err != nil {
		t.Fatalf("set c: %v", err)
	}

	if err := mc.Get(ctx, "b", &s); err != ErrCacheMiss {
		t.Fatalf("b err = %v, want ErrCacheMiss", err)
	}
	if err := mc.Get(ctx, "a", &s); err != nil || s != "1" {
		t.Fatalf("a = %q err = %v, want survivor", s, err)
	}
}

func TestMemoryIncrement(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := mc.Increment(ctx, "hits")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("increment = %d, want %d", got, want)
		}
	}

	if err := mc.Set(ctx, "name", "finscan", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := mc.Increment(ctx, "name"); err == nil {
		t.Fatalf("expected error incrementing non-integer value")
	}
}

func TestMemoryTryLock(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "scan:AAPL", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock ok=%v err=%v", ok, err)
	}
	ok, err = mc.TryLock(ctx, "scan:AAPL", time.Minute)
	if err != nil || ok {
		t.Fatalf("second lock ok=%v err=%v, want denied", ok, err)
	}
	if err := mc.Unlock(ctx, "scan:AAPL"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ok, err = mc.TryLock(ctx, "scan:AAPL", time.Minute)
	if err != nil || !ok {
		t.Fatalf("relock ok=%v err=%v", ok, err)
	}
}

func TestMGetTyped(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	type row struct {
		N int `json:"n"`
	}
	err := mc.MSet(ctx, map[string]interface{}{
		"r:1": row{N: 1},
		"r:2": row{N: 2},
		"r:3": "not json {",
	}, time.Minute)
	if err != nil {
		t.Fatalf("mset: %v", err)
	}

	got, err := MGetTyped[row](ctx, mc, "r:1", "r:2", "r:3", "r:4")
	if err != nil {
		t.Fatalf("mget typed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (bad json and absent keys skipped)", len(got))
	}
	if got["r:1"].N != 1 || got["r:2"].N != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestGenerateKeyWithParams(t *testing.T) {
	got := GenerateKeyWithParams("signals", "AAPL", "5m", 100)
	if got != "signals:AAPL:5m:100" {
		t.Fatalf("key = %q", got)
	}
	if GenerateKey("candles", "MSFT") != "candles:MSFT" {
		t.Fatalf("key = %q", GenerateKey("candles", "MSFT"))
	}
}
