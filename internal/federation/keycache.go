package federation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// KeyCache is the TTL-bounded public-key cache from spec §4.2: a
// concurrent map with read-many-write-few discipline, keyed by key-id
// ("<actor-uri>#main-key"), backed by the actor's own document on a miss.
// Grounded on the teacher's objectCache/wfCache sync.Map + sweeper pattern
// in internal/ap/client.go, reimplemented over xsync.MapOf for a typed,
// lock-free-read map instead of the teacher's interface{}-cast sync.Map.
type KeyCache struct {
	entries *xsync.MapOf[string, keyCacheEntry]
	ttl     time.Duration
}

type keyCacheEntry struct {
	pem      string
	cachedAt time.Time
}

// NewKeyCache builds a key cache with the given TTL (spec default 1h).
func NewKeyCache(ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &KeyCache{entries: xsync.NewMapOf[string, keyCacheEntry](), ttl: ttl}
}

// Get returns the cached PEM if fresh, otherwise fetches the owning actor's
// document, extracts publicKey.publicKeyPem, caches it, and returns it.
// Fetch errors are never cached, per spec §4.2.
func (c *KeyCache) Get(ctx context.Context, keyID string) (string, error) {
	if entry, ok := c.entries.Load(keyID); ok {
		if time.Since(entry.cachedAt) < c.ttl {
			return entry.pem, nil
		}
		c.entries.Delete(keyID)
	}

	actorURL := strings.SplitN(keyID, "#", 2)[0]
	actor, err := FetchActor(ctx, actorURL)
	if err != nil {
		if errors.Is(err, ErrGone) {
			return "", ErrActorGone
		}
		return "", err
	}
	if actor == nil || actor.PublicKey == nil || actor.PublicKey.PublicKeyPem == "" {
		return "", Validation("actor has no public key", nil)
	}

	c.entries.Store(keyID, keyCacheEntry{pem: actor.PublicKey.PublicKeyPem, cachedAt: time.Now()})
	return actor.PublicKey.PublicKeyPem, nil
}

// Invalidate drops a key-id from the cache, e.g. after an Update activity
// for its owning actor or a delivery failure suggesting a rotated key.
func (c *KeyCache) Invalidate(keyID string) {
	c.entries.Delete(keyID)
}

// PruneExpired removes all entries older than the TTL. Run on a ticker by
// the caller (spec §5: "key-cache pruning every ~10 min").
func (c *KeyCache) PruneExpired() {
	now := time.Now()
	c.entries.Range(func(key string, entry keyCacheEntry) bool {
		if now.Sub(entry.cachedAt) >= c.ttl {
			c.entries.Delete(key)
		}
		return true
	})
}

// Run starts the background pruning loop and blocks until ctx is cancelled.
// Mirrors the teacher's ticker+context shutdown idiom in internal/ap/resync.go.
func (c *KeyCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PruneExpired()
		}
	}
}

// Resolver adapts the cache to the KeyResolver type VerifyRequest needs.
func (c *KeyCache) Resolver() KeyResolver {
	return c.Get
}
