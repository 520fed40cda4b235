package store

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/buckket/go-blurhash"
)

// MediaAttachment mirrors spec §3's entity. Uploaded media is orphaned
// (StatusID empty) until bound on status creation.
type MediaAttachment struct {
	ID           string
	StatusID     string
	ObjectKey    string
	ThumbnailKey string
	MimeType     string
	SizeBytes    int64
	AltText      string
	Blurhash     string
	Width        int
	Height       int
}

// InsertMediaAttachment stores metadata for an uploaded (possibly still
// orphaned) attachment.
func (s *Store) InsertMediaAttachment(m *MediaAttachment) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO media_attachments (id, status_id, object_key, thumbnail_key, mime_type, size_bytes, alt_text, blurhash, width, height)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	} else {
		q = `INSERT INTO media_attachments (id, status_id, object_key, thumbnail_key, mime_type, size_bytes, alt_text, blurhash, width, height)
			VALUES (?,?,?,?,?,?,?,?,?,?)`
	}
	_, err := s.db.Exec(q, m.ID, m.StatusID, m.ObjectKey, m.ThumbnailKey, m.MimeType, m.SizeBytes,
		m.AltText, m.Blurhash, m.Width, m.Height)
	return err
}

// BindMediaToStatus attaches a previously-uploaded orphaned attachment to a
// newly created status.
func (s *Store) BindMediaToStatus(mediaID, statusID string) error {
	var q string
	if s.driver == "postgres" {
		q = `UPDATE media_attachments SET status_id = $1 WHERE id = $2`
	} else {
		q = `UPDATE media_attachments SET status_id = ? WHERE id = ?`
	}
	_, err := s.db.Exec(q, statusID, mediaID)
	return err
}

// MediaForStatus returns the attachments bound to a status, deleted
// transitively with it (spec §3 lifecycle).
func (s *Store) MediaForStatus(statusID string) ([]*MediaAttachment, error) {
	rows, err := s.db.Query(`SELECT id, status_id, object_key, thumbnail_key, mime_type, size_bytes, alt_text, blurhash, width, height
		FROM media_attachments WHERE status_id = `+s.ph(), statusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MediaAttachment
	for rows.Next() {
		m := &MediaAttachment{}
		if err := rows.Scan(&m.ID, &m.StatusID, &m.ObjectKey, &m.ThumbnailKey, &m.MimeType, &m.SizeBytes,
			&m.AltText, &m.Blurhash, &m.Width, &m.Height); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMediaForStatus removes every attachment bound to a status (called
// alongside DeleteStatusByURI).
func (s *Store) DeleteMediaForStatus(statusID string) error {
	_, err := s.db.Exec(`DELETE FROM media_attachments WHERE status_id = `+s.ph(), statusID)
	return err
}

// ComputeBlurhash computes the blurhash string for a locally uploaded
// thumbnail image. Remote attachments are never re-encoded — their
// peer-supplied blurhash string is trusted as-is and stored directly via
// InsertMediaAttachment.
func ComputeBlurhash(thumbnail []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(thumbnail))
	if err != nil {
		return "", fmt.Errorf("decode thumbnail: %w", err)
	}
	hash, err := blurhash.Encode(4, 3, img)
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}
