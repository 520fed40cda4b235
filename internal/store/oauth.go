package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// OAuthApp, OAuthToken, and AuthorizationCode mirror spec §3's OAuth2
// records. The core itself never reads these — the REST/OAuth surface that
// issues and checks them is explicitly out of this module's scope (spec
// §1) — but the tables and minimal accessors are declared here so the
// schema the core's database shares is complete, even though they are not
// among the tables the core itself touches.
//
// Unlike Status/Notification ids (ULIDs, deliberately orderable), these use
// github.com/google/uuid: a leaked ordering of client ids or auth codes
// would be a weakness an attacker could exploit, so these ids are opaque
// by construction rather than time-sortable.
type OAuthApp struct {
	ID           string
	ClientName   string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	Scopes       string
	CreatedAt    string
}

type AuthorizationCode struct {
	Code      string
	AppID     string
	Scopes    string
	CreatedAt string
	ExpiresAt string
}

// OAuthToken mirrors spec §3's OAuthToken entity. AccessToken is never
// persisted: the raw token is returned to the client exactly once and only
// its SHA-256 hash (TokenHash) is stored, so a database leak cannot be
// replayed as a bearer credential.
type OAuthToken struct {
	ID          string
	AppID       string
	AccessToken string // set only on the value returned from CreateOAuthToken; never read back
	TokenHash   string
	GrantType   string // e.g. "authorization_code", "client_credentials"
	Scopes      string
	CreatedAt   string
	ExpiresAt   string
}

// HashToken returns the SHA-256 hex digest stored in place of a raw access
// token, per spec §3's "access tokens are stored as SHA-256 hashes" note.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateOAuthApp registers a new OAuth client application.
func (s *Store) CreateOAuthApp(clientName, redirectURI, scopes string) (*OAuthApp, error) {
	app := &OAuthApp{
		ID:           uuid.NewString(),
		ClientName:   clientName,
		RedirectURI:  redirectURI,
		ClientID:     uuid.NewString(),
		ClientSecret: uuid.NewString(),
		Scopes:       scopes,
		CreatedAt:    nowRFC3339(),
	}
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO oauth_apps (id, client_name, redirect_uri, client_id, client_secret, scopes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`
	} else {
		q = `INSERT INTO oauth_apps (id, client_name, redirect_uri, client_id, client_secret, scopes, created_at)
			VALUES (?,?,?,?,?,?,?)`
	}
	_, err := s.db.Exec(q, app.ID, app.ClientName, app.RedirectURI, app.ClientID, app.ClientSecret, app.Scopes, app.CreatedAt)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// GetOAuthAppByClientID looks up a registered app by its public client id.
func (s *Store) GetOAuthAppByClientID(clientID string) (*OAuthApp, error) {
	row := s.db.QueryRow(`SELECT id, client_name, redirect_uri, client_id, client_secret, scopes, created_at
		FROM oauth_apps WHERE client_id = `+s.ph(), clientID)
	a := &OAuthApp{}
	if err := row.Scan(&a.ID, &a.ClientName, &a.RedirectURI, &a.ClientID, &a.ClientSecret, &a.Scopes, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// CreateAuthorizationCode issues a short-lived code for the authorization
// code grant, expiring after ttl.
func (s *Store) CreateAuthorizationCode(appID, scopes string, ttl time.Duration) (*AuthorizationCode, error) {
	now := time.Now().UTC()
	ac := &AuthorizationCode{
		Code:      uuid.NewString(),
		AppID:     appID,
		Scopes:    scopes,
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(ttl).Format(time.RFC3339),
	}
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO authorization_codes (code, app_id, scopes, created_at, expires_at) VALUES ($1,$2,$3,$4,$5)`
	} else {
		q = `INSERT INTO authorization_codes (code, app_id, scopes, created_at, expires_at) VALUES (?,?,?,?,?)`
	}
	_, err := s.db.Exec(q, ac.Code, ac.AppID, ac.Scopes, ac.CreatedAt, ac.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return ac, nil
}

// ConsumeAuthorizationCode looks up and deletes a code in one step
// (authorization codes are single-use).
func (s *Store) ConsumeAuthorizationCode(code string) (*AuthorizationCode, error) {
	row := s.db.QueryRow(`SELECT code, app_id, scopes, created_at, expires_at
		FROM authorization_codes WHERE code = `+s.ph(), code)
	ac := &AuthorizationCode{}
	if err := row.Scan(&ac.Code, &ac.AppID, &ac.Scopes, &ac.CreatedAt, &ac.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM authorization_codes WHERE code = `+s.ph(), code); err != nil {
		return nil, err
	}
	return ac, nil
}

// CreateOAuthToken mints a new bearer token, returning it with its raw
// AccessToken populated (the only time the caller ever sees the raw value);
// only TokenHash is persisted. expiresAt may be the zero time for a
// non-expiring token (client_credentials-style app tokens).
func (s *Store) CreateOAuthToken(appID, grantType, scopes string, expiresAt time.Time) (*OAuthToken, error) {
	raw := uuid.NewString() + uuid.NewString()
	t := &OAuthToken{
		ID:          uuid.NewString(),
		AppID:       appID,
		AccessToken: raw,
		TokenHash:   HashToken(raw),
		GrantType:   grantType,
		Scopes:      scopes,
		CreatedAt:   nowRFC3339(),
	}
	if !expiresAt.IsZero() {
		t.ExpiresAt = expiresAt.UTC().Format(time.RFC3339)
	}
	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO oauth_tokens (id, app_id, token_hash, grant_type, scopes, created_at, expires_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`
	} else {
		q = `INSERT INTO oauth_tokens (id, app_id, token_hash, grant_type, scopes, created_at, expires_at)
			VALUES (?,?,?,?,?,?,?)`
	}
	_, err := s.db.Exec(q, t.ID, t.AppID, t.TokenHash, t.GrantType, t.Scopes, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LookupOAuthToken resolves a raw bearer token to its stored record by
// hashing it and comparing against TokenHash; it never queries by the raw
// value directly since the raw value is never stored.
func (s *Store) LookupOAuthToken(raw string) (*OAuthToken, error) {
	row := s.db.QueryRow(`SELECT id, app_id, token_hash, grant_type, scopes, created_at, expires_at
		FROM oauth_tokens WHERE token_hash = `+s.ph(), HashToken(raw))
	t := &OAuthToken{}
	if err := row.Scan(&t.ID, &t.AppID, &t.TokenHash, &t.GrantType, &t.Scopes, &t.CreatedAt, &t.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}
