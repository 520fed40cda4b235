package activitypub

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// activityID mints a locally-unique, sortable activity id suffix rooted at
// the acting actor's URI. Builders are pure data-returning functions — no
// builder keeps state across calls — so callers that need a stable id for
// deduplication purposes should treat the returned map as the final value.
func activityID(actorID, verb string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return actorID + "#" + verb + "-" + id.String()
}

// BuildFollow creates an AP Follow activity.
func BuildFollow(followerID, followedID string) map[string]interface{} {
	return map[string]interface{}{
		"@context": DefaultContext,
		"id":       activityID(followerID, "follow"),
		"type":     "Follow",
		"actor":    followerID,
		"object":   followedID,
		"to":       []string{followedID},
	}
}

// BuildUndo wraps an arbitrary previously-built activity in an Undo,
// addressed to the same recipients as the inner activity.
func BuildUndo(actorID string, inner map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context": DefaultContext,
		"id":       activityID(actorID, "undo"),
		"type":     "Undo",
		"actor":    actorID,
		"object":   inner,
		"to":       inner["to"],
	}
}

// BuildAccept creates an AP Accept activity wrapping the original Follow.
func BuildAccept(followActivity map[string]interface{}, localActorID, followerID string) map[string]interface{} {
	return map[string]interface{}{
		"@context": DefaultContext,
		"id":       activityID(localActorID, "accept"),
		"type":     "Accept",
		"actor":    localActorID,
		"object":   followActivity,
		"to":       []string{followerID},
	}
}

// BuildReject mirrors BuildAccept for a declined Follow.
func BuildReject(followActivity map[string]interface{}, localActorID, followerID string) map[string]interface{} {
	return map[string]interface{}{
		"@context": DefaultContext,
		"id":       activityID(localActorID, "reject"),
		"type":     "Reject",
		"actor":    localActorID,
		"object":   followActivity,
		"to":       []string{followerID},
	}
}

// BuildCreate wraps a Note/Article/Question in a Create activity. The
// activity's recipient lists mirror the object's, per spec §4.5.
func BuildCreate(note *Note) map[string]interface{} {
	return map[string]interface{}{
		"@context":  DefaultContext,
		"id":        note.ID + "/activity",
		"type":      "Create",
		"actor":     note.AttributedTo,
		"object":    note,
		"to":        note.To,
		"cc":        note.CC,
		"published": note.Published,
	}
}

// BuildUpdate wraps an updated Note or Actor in an Update activity.
func BuildUpdate(actorID string, object interface{}, to, cc []string) map[string]interface{} {
	return map[string]interface{}{
		"@context":  DefaultContext,
		"id":        activityID(actorID, "update"),
		"type":      "Update",
		"actor":     actorID,
		"object":    object,
		"to":        to,
		"cc":        cc,
		"published": time.Now().UTC().Format(time.RFC3339),
	}
}

// BuildDelete wraps a Tombstone for the deleted URI in a Delete activity.
func BuildDelete(actorID, objectURI string, to, cc []string) map[string]interface{} {
	tombstone := Tombstone{
		Context:    ActivityStreamsNS,
		ID:         objectURI,
		Type:       "Tombstone",
		FormerType: "Note",
		Deleted:    time.Now().UTC().Format(time.RFC3339),
	}
	return map[string]interface{}{
		"@context":  DefaultContext,
		"id":        activityID(actorID, "delete"),
		"type":      "Delete",
		"actor":     actorID,
		"object":    tombstone,
		"to":        to,
		"cc":        cc,
		"published": time.Now().UTC().Format(time.RFC3339),
	}
}

// BuildLike creates a Like activity targeting a remote status URI.
func BuildLike(actorID, statusURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": DefaultContext,
		"id":       activityID(actorID, "like"),
		"type":     "Like",
		"actor":    actorID,
		"object":   statusURI,
		"to":       []string{PublicURI},
	}
}

// BuildAnnounce creates a boost (regular Announce, object is a URI).
func BuildAnnounce(actorID, statusURI, followersURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context":  DefaultContext,
		"id":        activityID(actorID, "announce"),
		"type":      "Announce",
		"actor":     actorID,
		"object":    statusURI,
		"to":        []string{PublicURI},
		"cc":        []string{followersURI},
		"published": time.Now().UTC().Format(time.RFC3339),
	}
}
