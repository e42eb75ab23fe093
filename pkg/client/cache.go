package client

import "sync"

const cacheKeyPrefix = "beelearn-attempt:"

// SessionCache holds the question layout of started attempts for the life of
// a client session. Saved answers are never cached; only Start writes to it.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]StartPayload
}

func NewSessionCache() *SessionCache {
	return &SessionCache{entries: map[string]StartPayload{}}
}

func cacheKey(attemptID string) string { return cacheKeyPrefix + attemptID }

func (c *SessionCache) Get(attemptID string) (StartPayload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[cacheKey(attemptID)]
	return p, ok
}

func (c *SessionCache) Put(p StartPayload) {
	if p.AttemptID == "" {
		return
	}
	p.Answers = nil
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(p.AttemptID)] = p
}

func (c *SessionCache) Delete(attemptID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(attemptID))
}

func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
