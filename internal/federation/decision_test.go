package federation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rustresort/rustresort/internal/federation"
)

// TestDecideCreate_CoversEveryRow exercises every combination of spec §4.4's
// Create persistence table (Testable Property 6: every activity resolves to
// exactly one of {Persist, CacheOnly, Ignore}), and pins the reply-wins-over-
// mention precedence the mention-only fix depends on.
func TestDecideCreate_CoversEveryRow(t *testing.T) {
	cases := []struct {
		name                 string
		mentionsLocalActor   bool
		inReplyToLocalStatus bool
		authorFollowed       bool
		want                 federation.Decision
	}{
		{"reply to local status", false, true, false, federation.Persist},
		{"reply and mention both present", true, true, false, federation.Persist},
		{"reply and followed both present", false, true, true, federation.Persist},
		{"mention only, not followed", true, false, false, federation.CacheOnly},
		{"mention only, also followed", true, false, true, federation.CacheOnly},
		{"followed author, no mention, no reply", false, false, true, federation.CacheOnly},
		{"unrelated author", false, false, false, federation.Ignore},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := federation.DecideCreate(c.mentionsLocalActor, c.inReplyToLocalStatus, c.authorFollowed)
			require.Equal(t, c.want, got)
		})
	}
}

func TestDecideFollow(t *testing.T) {
	require.Equal(t, federation.Persist, federation.DecideFollow(true))
	require.Equal(t, federation.Ignore, federation.DecideFollow(false))
}

func TestDecideLike(t *testing.T) {
	require.Equal(t, federation.Persist, federation.DecideLike(true))
	require.Equal(t, federation.Ignore, federation.DecideLike(false))
}

func TestDecideAnnounce_CoversEveryRow(t *testing.T) {
	cases := []struct {
		name                       string
		isEmbedded                 bool
		objectIsLocalStatus        bool
		embeddedMentionsLocalActor bool
		want                       federation.Decision
	}{
		{"bare URI of local status", false, true, false, federation.Persist},
		{"bare URI of remote status", false, false, false, federation.Ignore},
		{"quote boost mentioning local actor", true, false, true, federation.Persist},
		{"quote boost not mentioning local actor", true, false, false, federation.Ignore},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := federation.DecideAnnounce(c.isEmbedded, c.objectIsLocalStatus, c.embeddedMentionsLocalActor)
			require.Equal(t, c.want, got)
		})
	}
}

func TestDecideUndo(t *testing.T) {
	require.Equal(t, federation.Persist, federation.DecideUndo(true))
	require.Equal(t, federation.Ignore, federation.DecideUndo(false))
}

func TestDecideAccept(t *testing.T) {
	require.Equal(t, federation.Persist, federation.DecideAccept(true))
	require.Equal(t, federation.Ignore, federation.DecideAccept(false))
}
