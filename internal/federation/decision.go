package federation

// Decision is spec §4.4's persistence-decision policy: every inbound
// activity resolves to exactly one of these three outcomes (Testable
// Property 6). It drives dispatch in processor.go and doubles as the
// policy documentation spec §4.4 calls for.
type Decision int

const (
	Ignore Decision = iota
	CacheOnly
	Persist
)

func (d Decision) String() string {
	switch d {
	case Persist:
		return "persist"
	case CacheOnly:
		return "cache_only"
	default:
		return "ignore"
	}
}

// DecideCreate implements the Create rows of spec §4.4's persistence table.
// A reply to a local status always persists as reply_to_own, even when the
// same Note also mentions the local actor. A mention with no local
// reply-to is CacheOnly, per the §4.4 prose ("mentions the local actor ...
// otherwise cache + create mention notification") and scenario S3 ("cached"
// when there is no local inReplyTo) — the summary table's single "mentions
// local actor -> Persist" row is read together with that prose, not in
// isolation. An unmentioned Create from a followed author is CacheOnly;
// anything else is Ignore.
func DecideCreate(mentionsLocalActor, inReplyToLocalStatus, authorFollowed bool) Decision {
	switch {
	case inReplyToLocalStatus:
		return Persist
	case mentionsLocalActor, authorFollowed:
		return CacheOnly
	default:
		return Ignore
	}
}

// DecideFollow implements the Follow row: only a Follow addressed to the
// local actor is ever acted on.
func DecideFollow(targetsLocalActor bool) Decision {
	if targetsLocalActor {
		return Persist
	}
	return Ignore
}

// DecideLike implements the Like row: a favourite notification is recorded
// only when the liked object is a local status.
func DecideLike(objectIsLocalStatus bool) Decision {
	if objectIsLocalStatus {
		return Persist
	}
	return Ignore
}

// DecideAnnounce implements both Announce rows: a regular boost (bare
// object URI) persists a reblog notification when the URI is a local
// status; a quote boost (embedded object) persists a mention notification
// when the embedded object mentions the local actor, and is otherwise
// ignored regardless of whether it references a local status.
func DecideAnnounce(isEmbedded, objectIsLocalStatus, embeddedMentionsLocalActor bool) Decision {
	if isEmbedded {
		if embeddedMentionsLocalActor {
			return Persist
		}
		return Ignore
	}
	if objectIsLocalStatus {
		return Persist
	}
	return Ignore
}

// DecideUndo implements the Undo row: only an Undo matching a record this
// process actually persisted (a follower row, in practice — see
// handleUndo) has anything to retract.
func DecideUndo(matchesPersistedRecord bool) Decision {
	if matchesPersistedRecord {
		return Persist
	}
	return Ignore
}

// DecideAccept implements the Accept row: only an Accept answering a Follow
// this actor actually sent is acted on.
func DecideAccept(matchesOutstandingFollow bool) Decision {
	if matchesOutstandingFollow {
		return Persist
	}
	return Ignore
}
