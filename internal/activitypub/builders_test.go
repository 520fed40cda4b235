package activitypub_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rustresort/rustresort/internal/activitypub"
)

// TestBuildFollow_RoundTripsThroughJSON checks Testable Property 4: a built
// activity survives a JSON marshal/unmarshal round trip into
// IncomingActivity without losing actor/object/type.
func TestBuildFollow_RoundTripsThroughJSON(t *testing.T) {
	follow := activitypub.BuildFollow("https://a.example/users/alice", "https://b.example/users/bob")

	raw, err := json.Marshal(follow)
	require.NoError(t, err)

	var parsed activitypub.IncomingActivity
	require.NoError(t, json.Unmarshal(raw, &parsed))

	require.Equal(t, "Follow", parsed.Type)
	require.Equal(t, "https://a.example/users/alice", parsed.Actor)

	var objectURI string
	require.NoError(t, json.Unmarshal(parsed.Object, &objectURI))
	require.Equal(t, "https://b.example/users/bob", objectURI)
}

func TestBuildUndo_WrapsInnerActivity(t *testing.T) {
	follow := activitypub.BuildFollow("https://a.example/users/alice", "https://b.example/users/bob")
	undo := activitypub.BuildUndo("https://a.example/users/alice", follow)

	require.Equal(t, "Undo", undo["type"])
	require.Equal(t, follow, undo["object"])
	require.Equal(t, []string{"https://b.example/users/bob"}, undo["to"])
}

func TestBuildAccept_TargetsFollower(t *testing.T) {
	follow := activitypub.BuildFollow("https://b.example/users/bob", "https://a.example/users/alice")
	accept := activitypub.BuildAccept(follow, "https://a.example/users/alice", "https://b.example/users/bob")

	require.Equal(t, "Accept", accept["type"])
	require.Equal(t, "https://a.example/users/alice", accept["actor"])
	require.Equal(t, []string{"https://b.example/users/bob"}, accept["to"])
}

func TestBuildCreate_MirrorsNoteRecipients(t *testing.T) {
	note := &activitypub.Note{
		ID:           "https://a.example/users/alice/statuses/1",
		AttributedTo: "https://a.example/users/alice",
		To:           []string{activitypub.PublicURI},
		CC:           []string{"https://a.example/users/alice/followers"},
		Published:    "2026-01-01T00:00:00Z",
	}
	create := activitypub.BuildCreate(note)

	require.Equal(t, "Create", create["type"])
	require.Equal(t, note.To, create["to"])
	require.Equal(t, note.CC, create["cc"])
	require.Equal(t, note, create["object"])
	require.Equal(t, note.ID+"/activity", create["id"])
}

func TestBuildDelete_EmitsTombstone(t *testing.T) {
	del := activitypub.BuildDelete("https://a.example/users/alice", "https://a.example/users/alice/statuses/1", []string{activitypub.PublicURI}, nil)

	require.Equal(t, "Delete", del["type"])
	tombstone, ok := del["object"].(activitypub.Tombstone)
	require.True(t, ok)
	require.Equal(t, "Tombstone", tombstone.Type)
	require.Equal(t, "https://a.example/users/alice/statuses/1", tombstone.ID)
}

func TestStringOrArray_AcceptsStringOrSlice(t *testing.T) {
	var single activitypub.StringOrArray
	require.NoError(t, json.Unmarshal([]byte(`"https://example.com/x"`), &single))
	require.Equal(t, activitypub.StringOrArray{"https://example.com/x"}, single)

	var multi activitypub.StringOrArray
	require.NoError(t, json.Unmarshal([]byte(`["https://example.com/x","https://example.com/y"]`), &multi))
	require.Equal(t, activitypub.StringOrArray{"https://example.com/x", "https://example.com/y"}, multi)
}
