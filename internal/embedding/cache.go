package embedding

import (
	"container/list"
	"sync"
)

// EmbeddingCache is an LRU cache mapping query text to its embedding. Get
// takes the write lock: a hit reorders the recency list, so even lookups
// mutate.
type EmbeddingCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	mu       sync.Mutex
}

type cacheEntry struct {
	text      string
	embedding []float32
}

// NewEmbeddingCache creates an empty cache holding at most capacity entries.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached embedding for text and marks it most recently used.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[text]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).embedding, true
}

// Set stores the embedding for text, evicting the least recently used entry
// when the cache is full.
func (c *EmbeddingCache) Set(text string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[text]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).embedding = embedding
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).text)
		}
	}
	c.entries[text] = c.order.PushFront(&cacheEntry{text: text, embedding: embedding})
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
