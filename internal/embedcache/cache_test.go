package embedcache

import (
	"path/filepath"
	"testing"
)

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "embeddings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	vec := []float32{0.1, 0.2, 0.3, -0.4}
	if err := c.Put("/skills/joke-teller", "hash1", vec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get("/skills/joke-teller", "hash1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != len(vec) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestCacheMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "embeddings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	_, ok, err := c.Get("/skills/missing", "hash1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected cache miss")
	}
}

func TestCacheEvictsStaleContentHash(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "embeddings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.Put("/skills/x", "hash1", []float32{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put("/skills/x", "hash2", []float32{2}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok, _ := c.Get("/skills/x", "hash1"); ok {
		t.Error("stale hash1 entry should have been evicted")
	}
	got, ok, err := c.Get("/skills/x", "hash2")
	if err != nil || !ok {
		t.Fatalf("expected hash2 hit, ok=%v err=%v", ok, err)
	}
	if got[0] != 2 {
		t.Errorf("got[0] = %v, want 2", got[0])
	}
}
