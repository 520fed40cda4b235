package store

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID mints a lexicographically-sortable, time-monotonic id for
// statuses, notifications, and media attachments, per spec §3/§6. ulid.Make
// uses monotonic entropy, so ids minted within the same millisecond still
// sort in creation order.
func NewID() string {
	return ulid.Make().String()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
