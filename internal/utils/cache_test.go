package utils

import (
	"path/filepath"
	"testing"
)

func TestLIDCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lid.json")

	c := NewLIDCache(path)
	if err := c.Load(); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if err := c.Set("123456789", "6281234567890"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reloaded := NewLIDCache(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, ok := reloaded.Get("123456789"); !ok || got != "6281234567890" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}

func TestLIDCacheInMemory(t *testing.T) {
	c := NewLIDCache("")
	if err := c.Set("1", "62811"); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("1", "62811"); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("2"); ok {
		t.Fatal("unexpected hit")
	}
}
