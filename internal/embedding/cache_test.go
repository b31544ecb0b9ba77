package embedding

import (
	"sync"
	"testing"
)

func TestEmbeddingCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("a", []float32{1, 2, 3})
	c.Set("b", []float32{4, 5})

	// Touching a makes b the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}
	c.Set("c", []float32{6})

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("a: got %v, %v", v, ok)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestEmbeddingCache_ConcurrentHits(t *testing.T) {
	c := NewEmbeddingCache(8)
	c.Set("q", []float32{1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, ok := c.Get("q"); !ok {
					return
				}
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("Len=%d, want 1", c.Len())
	}
}
