package store_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rustresort/rustresort/internal/store"
)

func TestTimelineCache_EvictsOldestBeyondCapacity(t *testing.T) {
	c := store.NewTimelineCache(2)

	c.Insert(store.TimelineEntry{ID: "1", AuthorAddr: "alice@example.com"})
	c.Insert(store.TimelineEntry{ID: "2", AuthorAddr: "alice@example.com"})
	c.Insert(store.TimelineEntry{ID: "3", AuthorAddr: "alice@example.com"})

	_, ok := c.Get("1")
	require.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get("2")
	require.True(t, ok)
	_, ok = c.Get("3")
	require.True(t, ok)
}

func TestTimelineCache_ReinsertRefreshesRecency(t *testing.T) {
	c := store.NewTimelineCache(2)

	c.Insert(store.TimelineEntry{ID: "1", AuthorAddr: "alice@example.com"})
	c.Insert(store.TimelineEntry{ID: "2", AuthorAddr: "alice@example.com"})
	c.Insert(store.TimelineEntry{ID: "1", AuthorAddr: "alice@example.com"}) // touch "1" again, moves to front
	c.Insert(store.TimelineEntry{ID: "3", AuthorAddr: "alice@example.com"})

	_, ok := c.Get("2")
	require.False(t, ok, "entry 2 should have been evicted, not 1")
	_, ok = c.Get("1")
	require.True(t, ok)
}

func TestTimelineCache_GetHomeTimelineFiltersByFolloweeAndPaginates(t *testing.T) {
	c := store.NewTimelineCache(10)
	for i := 5; i >= 1; i-- {
		c.Insert(store.TimelineEntry{ID: fmt.Sprintf("%d", i), AuthorAddr: "alice@example.com"})
	}
	c.Insert(store.TimelineEntry{ID: "99", AuthorAddr: "stranger@example.com"})

	followees := map[string]struct{}{"alice@example.com": {}}
	page := c.GetHomeTimeline(followees, 2, "")
	require.Len(t, page, 2)
	for _, e := range page {
		require.Equal(t, "alice@example.com", e.AuthorAddr)
	}
}

func TestTimelineCache_Invalidate(t *testing.T) {
	c := store.NewTimelineCache(10)
	c.Insert(store.TimelineEntry{ID: "1"})
	c.Invalidate("1")
	_, ok := c.Get("1")
	require.False(t, ok)
}

func TestProfileCache_PutGetInvalidate(t *testing.T) {
	c := store.NewProfileCache()

	_, ok := c.Get("bob@peer.example")
	require.False(t, ok)

	c.Put(store.ProfileEntry{Address: "bob@peer.example", DisplayName: "Bob"})
	entry, ok := c.Get("bob@peer.example")
	require.True(t, ok)
	require.Equal(t, "Bob", entry.DisplayName)
	require.Equal(t, 1, c.Len())

	c.Invalidate("bob@peer.example")
	_, ok = c.Get("bob@peer.example")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}
