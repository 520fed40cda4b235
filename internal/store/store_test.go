package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rustresort/rustresort/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rustresort-test.db")

	db, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertStatus_IsIdempotentOnURI(t *testing.T) {
	db := openTestStore(t)

	st := &store.Status{
		URI:             "https://peer.example/statuses/1",
		Content:         "hello",
		Visibility:      "public",
		PersistedReason: "favourited",
	}
	require.NoError(t, db.UpsertStatus(st))
	firstID := st.ID

	st.Content = "hello, edited"
	st.ID = "" // force a fresh id to prove UpsertStatus re-resolves by URI, not id
	require.NoError(t, db.UpsertStatus(st))

	got, err := db.GetStatusByURI("https://peer.example/statuses/1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, firstID, got.ID)
	require.Equal(t, "hello, edited", got.Content)
}

func TestGetStatusByURI_UnknownReturnsNilNoError(t *testing.T) {
	db := openTestStore(t)

	got, err := db.GetStatusByURI("https://peer.example/statuses/missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFollowerLifecycle(t *testing.T) {
	db := openTestStore(t)

	ok, err := db.IsFollower("bob@peer.example")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.AddFollower("bob@peer.example", "https://peer.example/follows/1", "https://peer.example/users/bob/inbox"))

	ok, err = db.IsFollower("bob@peer.example")
	require.NoError(t, err)
	require.True(t, ok)

	inboxes, err := db.FollowerInboxes()
	require.NoError(t, err)
	require.Contains(t, inboxes, "https://peer.example/users/bob/inbox")

	require.NoError(t, db.RemoveFollowerByFollowURI("https://peer.example/follows/1"))

	ok, err = db.IsFollower("bob@peer.example")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDomainBlocklist(t *testing.T) {
	db := openTestStore(t)

	blocked, err := db.IsDomainBlocked("spam.example")
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, db.BlockDomain("spam.example"))

	blocked, err = db.IsDomainBlocked("spam.example")
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestListLocalOutbox_OrdersAndPaginates(t *testing.T) {
	db := openTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.UpsertStatus(&store.Status{
			URI:             "https://example.com/statuses/local-" + string(rune('a'+i)),
			Content:         "post",
			Visibility:      "public",
			IsLocal:         true,
			PersistedReason: "own",
		}))
	}

	count, err := db.CountLocalOutbox()
	require.NoError(t, err)
	require.Equal(t, 3, count)

	page, err := db.ListLocalOutbox(2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
}
