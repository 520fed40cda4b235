package store

import (
	"container/list"
	"sync"
)

// TimelineEntry is the lightweight status view spec §3 calls a
// TimelineCacheEntry: enough to render a home timeline without a durable
// row for content the local actor never interacted with.
type TimelineEntry struct {
	ID           string
	URI          string
	AuthorAddr   string
	Content      string
	Visibility   string
	Attachments  []MediaAttachment
	InReplyToURI string
	BoostOfURI   string
	CreatedAt    string
}

// TimelineCache is a bounded (~2000 item), TTL-less LRU keyed by status id.
// Nothing in the teacher repo implements an LRU+bound cache verbatim, so
// this is new code in the teacher's general mutex-guarded-map style
// (internal/ap/client.go's objectCache), extended with a doubly-linked
// eviction list since spec §3 requires a hard size bound, not just a TTL.
type TimelineCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element // status id → list element
	order    *list.List                // front = newest
}

type timelineNode struct {
	entry TimelineEntry
}

// NewTimelineCache builds a cache bounded to capacity entries (spec default
// ~2000).
func NewTimelineCache(capacity int) *TimelineCache {
	if capacity <= 0 {
		capacity = 2000
	}
	return &TimelineCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Insert adds or refreshes a lightweight status view, evicting the oldest
// entry if the cache is at capacity.
func (c *TimelineCache) Insert(e TimelineEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[e.ID]; ok {
		c.order.MoveToFront(el)
		el.Value.(*timelineNode).entry = e
		return
	}

	el := c.order.PushFront(&timelineNode{entry: e})
	c.entries[e.ID] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*timelineNode).entry.ID)
		}
	}
}

// Get returns the cached entry for id, if present.
func (c *TimelineCache) Get(id string) (TimelineEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return TimelineEntry{}, false
	}
	return el.Value.(*timelineNode).entry, true
}

// Invalidate removes id from the cache (Update/Delete activity handling).
func (c *TimelineCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[id]; ok {
		c.order.Remove(el)
		delete(c.entries, id)
	}
}

// GetHomeTimeline returns the newest entries authored by an address in
// followees, in descending insertion order, bounded by limit and optionally
// starting strictly after beforeID (exclusive, for "older than" pagination).
func (c *TimelineCache) GetHomeTimeline(followees map[string]struct{}, limit int, beforeID string) []TimelineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []TimelineEntry
	skipping := beforeID != ""
	for el := c.order.Front(); el != nil && len(out) < limit; el = el.Next() {
		entry := el.Value.(*timelineNode).entry
		if skipping {
			if entry.ID == beforeID {
				skipping = false
			}
			continue
		}
		if _, ok := followees[entry.AuthorAddr]; !ok {
			continue
		}
		out = append(out, entry)
	}
	return out
}
