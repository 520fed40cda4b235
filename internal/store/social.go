package store

// AddFollower inserts a Follower row (spec §4.4's Follow handler): the
// counterparty address, the Follow activity URI, and the resolved remote
// inbox URI used for future delivery. Re-following (already a follower)
// upserts rather than erroring, since Follow still (re)sends an Accept.
func (s *Store) AddFollower(address, followURI, inboxURI string) error {
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO followers (address, follow_uri, inbox_uri, created_at) VALUES ($1,$2,$3,$4)
			ON CONFLICT (address) DO UPDATE SET follow_uri=EXCLUDED.follow_uri, inbox_uri=EXCLUDED.inbox_uri`
	} else {
		q = `INSERT INTO followers (address, follow_uri, inbox_uri, created_at) VALUES (?,?,?,?)
			ON CONFLICT(address) DO UPDATE SET follow_uri=excluded.follow_uri, inbox_uri=excluded.inbox_uri`
	}
	_, err := s.db.Exec(q, address, followURI, inboxURI, nowRFC3339())
	return err
}

// RemoveFollowerByFollowURI deletes a follower row matching the given
// Follow activity URI (spec §4.4 Undo-Follow handling).
func (s *Store) RemoveFollowerByFollowURI(followURI string) error {
	_, err := s.db.Exec(`DELETE FROM followers WHERE follow_uri = `+s.ph(), followURI)
	return err
}

// IsFollower reports whether address already follows the local actor.
func (s *Store) IsFollower(address string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM followers WHERE address = `+s.ph(), address).Scan(&n)
	return n > 0, err
}

// FollowerInboxes returns every remote follower's inbox URI, used to
// compute the recipient set for public/unlisted/followers-only statuses.
func (s *Store) FollowerInboxes() ([]string, error) {
	rows, err := s.db.Query(`SELECT inbox_uri FROM followers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, err
		}
		out = append(out, inbox)
	}
	return out, rows.Err()
}

// AddFollow records that the local actor now follows address (outbound
// Follow accepted or sent).
func (s *Store) AddFollow(address, followURI string) error {
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO follows (address, follow_uri, created_at) VALUES ($1,$2,$3) ON CONFLICT (address) DO NOTHING`
	} else {
		q = `INSERT INTO follows (address, follow_uri, created_at) VALUES (?,?,?) ON CONFLICT(address) DO NOTHING`
	}
	_, err := s.db.Exec(q, address, followURI, nowRFC3339())
	return err
}

// RemoveFollow deletes the local actor's follow of address.
func (s *Store) RemoveFollow(address string) error {
	_, err := s.db.Exec(`DELETE FROM follows WHERE address = `+s.ph(), address)
	return err
}

// FollowedAddresses lists every address the local actor follows, used to
// hydrate the profile cache and compute home-timeline membership.
func (s *Store) FollowedAddresses() ([]string, error) {
	rows, err := s.db.Query(`SELECT address FROM follows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FollowerAddresses lists every address that follows the local actor.
func (s *Store) FollowerAddresses() ([]string, error) {
	rows, err := s.db.Query(`SELECT address FROM followers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Notification mirrors spec §3's Notification entity.
type Notification struct {
	ID            string
	Type          string // mention, reblog, favourite, follow, follow_request, poll, status
	OriginAddress string
	StatusURI     string
	Read          bool
	CreatedAt     string
}

// InsertNotification creates a notification row.
func (s *Store) InsertNotification(n *Notification) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = nowRFC3339()
	}
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO notifications (id, type, origin_address, status_uri, read, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	} else {
		q = `INSERT INTO notifications (id, type, origin_address, status_uri, read, created_at) VALUES (?,?,?,?,?,?)`
	}
	_, err := s.db.Exec(q, n.ID, n.Type, n.OriginAddress, n.StatusURI, boolToInt(n.Read), n.CreatedAt)
	return err
}

// IsDomainBlocked reports whether host is in the domain-block list. The
// activity processor refuses any activity from a blocked host before
// dispatch, per spec §4.4 step 2.
func (s *Store) IsDomainBlocked(host string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM domain_blocks WHERE host = `+s.ph(), host).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BlockDomain adds host to the domain-block list.
func (s *Store) BlockDomain(host string) error {
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO domain_blocks (host) VALUES ($1) ON CONFLICT DO NOTHING`
	} else {
		q = `INSERT INTO domain_blocks (host) VALUES (?) ON CONFLICT DO NOTHING`
	}
	_, err := s.db.Exec(q, host)
	return err
}
