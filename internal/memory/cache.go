package memory

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a conversation stays in the ephemeral cache.
const DefaultTTL = 300 * time.Second

type cacheEntry struct {
	state   *PersistentState
	expires time.Time
}

// TTLCache is an in-process Cache. Entries expire lazily on read; Cleanup
// sweeps the rest.
type TTLCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewTTLCache(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTLCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *TTLCache) Get(ctx context.Context, conversationID string) (*PersistentState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[conversationID]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, conversationID)
		return nil, false, nil
	}
	return e.state.Clone(), true, nil
}

func (c *TTLCache) Set(ctx context.Context, state *PersistentState) error {
	c.mu.Lock()
	c.entries[state.ConversationID] = cacheEntry{state: state.Clone(), expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *TTLCache) Delete(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
	return nil
}

func (c *TTLCache) Cleanup(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
			n++
		}
	}
	return n, nil
}

// Len counts entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
