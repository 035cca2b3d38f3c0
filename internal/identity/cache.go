package identity

import (
	"sync"

	"github.com/dicelobby/backend/internal/core"
)

// cacheSkewMs is subtracted from the token's own expiry so a cached claim
// can never outlive the token it came from.
const cacheSkewMs = 30_000

// claimCache memoizes successful verifications by token string. Entries
// expire with the underlying token and are evicted lazily.
type claimCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	claims  Claims
	expires int64
}

func newClaimCache() *claimCache {
	return &claimCache{entries: make(map[string]cacheEntry)}
}

func (c *claimCache) get(token string) (*Claims, bool) {
	now := core.NowMs()

	c.mu.RLock()
	e, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now >= e.expires {
		c.mu.Lock()
		delete(c.entries, token)
		c.mu.Unlock()
		return nil, false
	}
	out := e.claims
	return &out, true
}

func (c *claimCache) put(token string, claims *Claims) {
	expires := claims.ExpiresAt - cacheSkewMs
	if expires <= core.NowMs() {
		return
	}
	c.mu.Lock()
	c.entries[token] = cacheEntry{claims: *claims, expires: expires}
	c.mu.Unlock()
}

// sweep drops expired entries; called opportunistically by the verifier.
func (c *claimCache) sweep() {
	now := core.NowMs()
	c.mu.Lock()
	for token, e := range c.entries {
		if now >= e.expires {
			delete(c.entries, token)
		}
	}
	c.mu.Unlock()
}
