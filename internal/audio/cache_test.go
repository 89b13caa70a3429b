package audio

import (
	"context"
	"bytes"
	"testing"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Put(ctx, "k", []byte("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(data, []byte("data")) {
		t.Fatalf("got %q", data)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after Clear")
	}
}

func TestTieredCachePromotesSlowHits(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryCache()
	slow := NewMemoryCache()
	c := NewTieredCache(fast, slow)

	if err := slow.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("seed slow tier: %v", err)
	}

	data, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get through tiers: ok=%v err=%v", ok, err)
	}
	if string(data) != "v" {
		t.Fatalf("got %q", data)
	}
	if _, ok, _ := fast.Get(ctx, "k"); !ok {
		t.Fatal("slow hit was not promoted to the fast tier")
	}
}

func TestTieredCachePutWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryCache()
	slow := NewMemoryCache()
	c := NewTieredCache(fast, slow)

	if err := c.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := fast.Get(ctx, "k"); !ok {
		t.Fatal("missing from fast tier")
	}
	if _, ok, _ := slow.Get(ctx, "k"); !ok {
		t.Fatal("missing from slow tier")
	}
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := NewSQLiteCache(t.TempDir() + "/cache.db")
	if err != nil {
		t.Fatalf("NewSQLiteCache: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("empty Get: ok=%v err=%v", ok, err)
	}
	if err := c.Put(ctx, "k", []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Overwrite replaces.
	if err := c.Put(ctx, "k", []byte{0x03}); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	data, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(data, []byte{0x03}) {
		t.Fatalf("got %v", data)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after Clear")
	}
}

func TestContentHashNormalization(t *testing.T) {
	a := ContentHash("Hola, ¿qué tal?", "es", "nova")
	b := ContentHash("hola qué tal", "es", "nova")
	if a != b {
		t.Fatal("punctuation and casing should not change the hash")
	}
	if ContentHash("hola", "es", "nova") == ContentHash("hola", "es", "alloy") {
		t.Fatal("voice must be part of the hash")
	}
	if TextHash("hola", "es") == TextHash("hola", "pt") {
		t.Fatal("language must be part of the text hash")
	}
}
