package store

import (
	"database/sql"
	"fmt"
)

// Status mirrors spec §3's Status entity. A status is persisted only when
// IsLocal is true or PersistedReason is non-empty; anything else lives only
// in the timeline cache (see timelinecache.go).
type Status struct {
	ID              string
	URI             string
	Content         string
	ContentWarning  string
	Visibility      string // public, unlisted, followers-only, direct
	Language        string
	AuthorAddress   string // handle@host for remote; empty/local for local
	IsLocal         bool
	InReplyToURI    string
	BoostOfURI      string
	PersistedReason string // own, reposted, favourited, bookmarked, reply_to_own
	CreatedAt       string
	FetchedAt       string
}

// UpsertStatus inserts or updates a status by URI (idempotent on URI), per
// spec §4.6's persistence contract.
func (s *Store) UpsertStatus(st *Status) error {
	if st.ID == "" {
		st.ID = NewID()
	}
	if st.CreatedAt == "" {
		st.CreatedAt = nowRFC3339()
	}

	var q string
	switch s.driver {
	case "postgres":
		q = `INSERT INTO statuses (id, uri, content, content_warning, visibility, language,
				author_address, is_local, in_reply_to_uri, boost_of_uri, persisted_reason, created_at, fetched_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (uri) DO UPDATE SET
				content=EXCLUDED.content, content_warning=EXCLUDED.content_warning,
				visibility=EXCLUDED.visibility, persisted_reason=EXCLUDED.persisted_reason,
				fetched_at=EXCLUDED.fetched_at`
	default:
		q = `INSERT INTO statuses (id, uri, content, content_warning, visibility, language,
				author_address, is_local, in_reply_to_uri, boost_of_uri, persisted_reason, created_at, fetched_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(uri) DO UPDATE SET
				content=excluded.content, content_warning=excluded.content_warning,
				visibility=excluded.visibility, persisted_reason=excluded.persisted_reason,
				fetched_at=excluded.fetched_at`
	}

	_, err := s.db.Exec(q, st.ID, st.URI, st.Content, st.ContentWarning, st.Visibility, st.Language,
		st.AuthorAddress, boolToInt(st.IsLocal), st.InReplyToURI, st.BoostOfURI, st.PersistedReason,
		st.CreatedAt, st.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

// GetStatusByURI returns the persisted status for uri, or (nil, nil) if it
// is not durably stored (it may still be present in the timeline cache).
func (s *Store) GetStatusByURI(uri string) (*Status, error) {
	row := s.db.QueryRow(`SELECT id, uri, content, content_warning, visibility, language,
			author_address, is_local, in_reply_to_uri, boost_of_uri, persisted_reason, created_at, fetched_at
		FROM statuses WHERE uri = `+s.ph(), uri)
	return scanStatus(row)
}

// IsLocalStatusURI reports whether uri belongs to a status stored with
// IsLocal=true, used by the processor to decide whether an inbound
// inReplyTo/object reference targets the local actor's own content.
func (s *Store) IsLocalStatusURI(uri string) (bool, error) {
	var isLocal int
	err := s.db.QueryRow(`SELECT is_local FROM statuses WHERE uri = `+s.ph(), uri).Scan(&isLocal)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return isLocal != 0, nil
}

// DeleteStatusByURI removes a status (used for inbound Delete/Tombstone
// handling of a previously-persisted remote status, or local retraction).
func (s *Store) DeleteStatusByURI(uri string) error {
	_, err := s.db.Exec(`DELETE FROM statuses WHERE uri = `+s.ph(), uri)
	return err
}

// ListLocalOutbox returns local public/unlisted statuses, newest first,
// for the paginated outbox OrderedCollection (spec §4.7).
func (s *Store) ListLocalOutbox(limit int, beforeID string) ([]*Status, error) {
	var rows *sql.Rows
	var err error
	if beforeID == "" {
		q := `SELECT id, uri, content, content_warning, visibility, language,
				author_address, is_local, in_reply_to_uri, boost_of_uri, persisted_reason, created_at, fetched_at
			FROM statuses WHERE is_local = 1 AND visibility IN ('public','unlisted')
			ORDER BY id DESC LIMIT ` + s.ph()
		rows, err = s.db.Query(q, limit)
	} else {
		var q string
		if s.driver == "postgres" {
			q = `SELECT id, uri, content, content_warning, visibility, language,
					author_address, is_local, in_reply_to_uri, boost_of_uri, persisted_reason, created_at, fetched_at
				FROM statuses WHERE is_local = 1 AND visibility IN ('public','unlisted') AND id < $1
				ORDER BY id DESC LIMIT $2`
		} else {
			q = `SELECT id, uri, content, content_warning, visibility, language,
					author_address, is_local, in_reply_to_uri, boost_of_uri, persisted_reason, created_at, fetched_at
				FROM statuses WHERE is_local = 1 AND visibility IN ('public','unlisted') AND id < ?
				ORDER BY id DESC LIMIT ?`
		}
		rows, err = s.db.Query(q, beforeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Status
	for rows.Next() {
		st, err := scanStatusRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountLocalOutbox returns the total number of local public/unlisted
// statuses, used for the outbox collection's totalItems.
func (s *Store) CountLocalOutbox() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM statuses WHERE is_local = 1 AND visibility IN ('public','unlisted')`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatus(row rowScanner) (*Status, error) {
	st, err := scanStatusRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

func scanStatusRows(row rowScanner) (*Status, error) {
	st := &Status{}
	var isLocal int
	err := row.Scan(&st.ID, &st.URI, &st.Content, &st.ContentWarning, &st.Visibility, &st.Language,
		&st.AuthorAddress, &isLocal, &st.InReplyToURI, &st.BoostOfURI, &st.PersistedReason,
		&st.CreatedAt, &st.FetchedAt)
	if err != nil {
		return nil, err
	}
	st.IsLocal = isLocal != 0
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ─── Relations (favourites, bookmarks, reposts) — keyed by status id ──────

func (s *Store) insertRelation(table, statusID, statusURI string) error {
	var q string
	if s.driver == "postgres" {
		q = fmt.Sprintf(`INSERT INTO %s (status_id, status_uri, created_at) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, table)
	} else {
		q = fmt.Sprintf(`INSERT INTO %s (status_id, status_uri, created_at) VALUES (?,?,?) ON CONFLICT DO NOTHING`, table)
	}
	_, err := s.db.Exec(q, statusID, statusURI, nowRFC3339())
	return err
}

func (s *Store) deleteRelation(table, statusID string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE status_id = `, table) + s.ph()
	_, err := s.db.Exec(q, statusID)
	return err
}

func (s *Store) hasRelation(table, statusID string) (bool, error) {
	var n int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status_id = `, table) + s.ph()
	err := s.db.QueryRow(q, statusID).Scan(&n)
	return n > 0, err
}

func (s *Store) AddFavourite(statusID, statusURI string) error  { return s.insertRelation("favourites", statusID, statusURI) }
func (s *Store) RemoveFavourite(statusID string) error          { return s.deleteRelation("favourites", statusID) }
func (s *Store) HasFavourited(statusID string) (bool, error)    { return s.hasRelation("favourites", statusID) }

func (s *Store) AddBookmark(statusID, statusURI string) error { return s.insertRelation("bookmarks", statusID, statusURI) }
func (s *Store) RemoveBookmark(statusID string) error         { return s.deleteRelation("bookmarks", statusID) }

func (s *Store) AddRepost(statusID, statusURI string) error { return s.insertRelation("reposts", statusID, statusURI) }
func (s *Store) RemoveRepost(statusID string) error         { return s.deleteRelation("reposts", statusID) }
func (s *Store) HasReposted(statusID string) (bool, error)  { return s.hasRelation("reposts", statusID) }
