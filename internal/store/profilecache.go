package store

import "sync"

// ProfileEntry is the hydrated remote-actor view spec §3 calls a
// ProfileCacheEntry — enough to render an address without refetching the
// actor document on every view.
type ProfileEntry struct {
	Address        string // handle@host
	DisplayName    string
	Bio            string
	AvatarURL      string
	HeaderURL      string
	PublicKeyPEM   string
	InboxURI       string
	SharedInboxURI string
	FollowersCount int
	FollowingCount int
	FetchedAt      string
}

// ProfileCache holds one entry per address with no fixed bound (spec §3:
// sized by the follow/follower graph, not by a hard cap). Hydrated at
// startup from the union of follow/follower addresses and refreshed on
// inbound Update(Actor) activities.
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[string]ProfileEntry
}

// NewProfileCache returns an empty cache ready for hydration.
func NewProfileCache() *ProfileCache {
	return &ProfileCache{entries: make(map[string]ProfileEntry)}
}

// Get returns the cached profile for address, if present.
func (c *ProfileCache) Get(address string) (ProfileEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[address]
	return e, ok
}

// Put inserts or replaces the cached profile for an address (initial
// hydration, or a refetch triggered by an inbound Update).
func (c *ProfileCache) Put(e ProfileEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Address] = e
}

// Invalidate drops a cached profile, forcing the next lookup to refetch.
func (c *ProfileCache) Invalidate(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, address)
}

// Addresses returns every address currently cached.
func (c *ProfileCache) Addresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for addr := range c.entries {
		out = append(out, addr)
	}
	return out
}

// Len reports how many profiles are currently cached.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
