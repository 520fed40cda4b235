// Package store implements RustResort's persistence and cache layer: the
// durable SQL tables the federation core reads/writes (spec §4.6, §6) plus
// the in-memory timeline/profile caches. It supports both SQLite (default,
// zero external dependencies) and PostgreSQL, following the teacher's
// dual-driver discipline in its own internal/db/db.go.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a database connection and provides all data access methods
// the federation core needs: StatusStore, FollowerStore, NotificationSink,
// and DomainBlocklist from spec §9's narrow-interface list are all
// satisfied by *Store.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a database connection. databaseURL may be a bare file path
// (SQLite), "sqlite:///path/to/file.db", or "postgres://...".
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		// WAL allows concurrent readers alongside the single writer; a small
		// pool lets cache-miss lookups and pagination proceed while an inbox
		// write is serialising. For higher-throughput deployments, switch to
		// PostgreSQL via DATABASE_URL=postgres://... — SQLite's single-writer
		// architecture is a hard ceiling no tuning removes.
		const sqliteMaxConns = 4
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
		slog.Info("sqlite database opened", "max_conns", sqliteMaxConns)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")
	if s.driver == "sqlite" {
		return s.migrateSQLite()
	}
	return s.migratePostgres()
}

// commonMigrations lists DDL shared between SQLite and PostgreSQL. Textual
// ids are ULIDs (lexicographically sortable) so `ORDER BY id DESC` serves
// pagination directly, per spec §6.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS statuses (
		id               TEXT NOT NULL PRIMARY KEY,
		uri              TEXT NOT NULL UNIQUE,
		content          TEXT NOT NULL DEFAULT '',
		content_warning  TEXT NOT NULL DEFAULT '',
		visibility       TEXT NOT NULL,
		language         TEXT NOT NULL DEFAULT '',
		author_address   TEXT NOT NULL DEFAULT '',
		is_local         INTEGER NOT NULL DEFAULT 0,
		in_reply_to_uri  TEXT NOT NULL DEFAULT '',
		boost_of_uri     TEXT NOT NULL DEFAULT '',
		persisted_reason TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL,
		fetched_at       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS statuses_created_at ON statuses(created_at)`,
	`CREATE INDEX IF NOT EXISTS statuses_author ON statuses(author_address)`,
	`CREATE TABLE IF NOT EXISTS media_attachments (
		id            TEXT NOT NULL PRIMARY KEY,
		status_id     TEXT NOT NULL DEFAULT '',
		object_key    TEXT NOT NULL,
		thumbnail_key TEXT NOT NULL DEFAULT '',
		mime_type     TEXT NOT NULL,
		size_bytes    INTEGER NOT NULL DEFAULT 0,
		alt_text      TEXT NOT NULL DEFAULT '',
		blurhash      TEXT NOT NULL DEFAULT '',
		width         INTEGER NOT NULL DEFAULT 0,
		height        INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS media_attachments_status ON media_attachments(status_id)`,
	`CREATE TABLE IF NOT EXISTS followers (
		address    TEXT NOT NULL UNIQUE,
		follow_uri TEXT NOT NULL,
		inbox_uri  TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS follows (
		address    TEXT NOT NULL UNIQUE,
		follow_uri TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id             TEXT NOT NULL PRIMARY KEY,
		type           TEXT NOT NULL,
		origin_address TEXT NOT NULL DEFAULT '',
		status_uri     TEXT NOT NULL DEFAULT '',
		read           INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_created_at ON notifications(created_at)`,
	`CREATE TABLE IF NOT EXISTS domain_blocks (
		host TEXT NOT NULL PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS favourites (
		status_id  TEXT NOT NULL UNIQUE,
		status_uri TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookmarks (
		status_id  TEXT NOT NULL UNIQUE,
		status_uri TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reposts (
		status_id  TEXT NOT NULL UNIQUE,
		status_uri TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_apps (
		id            TEXT NOT NULL PRIMARY KEY,
		client_name   TEXT NOT NULL,
		redirect_uri  TEXT NOT NULL,
		client_id     TEXT NOT NULL UNIQUE,
		client_secret TEXT NOT NULL,
		scopes        TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS authorization_codes (
		code       TEXT NOT NULL PRIMARY KEY,
		app_id     TEXT NOT NULL,
		scopes     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_tokens (
		id           TEXT NOT NULL PRIMARY KEY,
		app_id       TEXT NOT NULL,
		token_hash   TEXT NOT NULL UNIQUE,
		grant_type   TEXT NOT NULL,
		scopes       TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		expires_at   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		ts     TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_ts ON audit_log(ts)`,
}

func (s *Store) migrateSQLite() error {
	for _, m := range commonMigrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

func (s *Store) migratePostgres() error {
	for _, m := range commonMigrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	slog.Info("migrations complete")
	return nil
}

// ph returns the SQL placeholder token for a single-argument query: SQLite
// uses ? and PostgreSQL uses $1.
func (s *Store) ph() string {
	if s.driver == "postgres" {
		return "$1"
	}
	return "?"
}

func (s *Store) auditLog(action, detail string) {
	q := `INSERT INTO audit_log (ts, action, detail) VALUES (?, ?, ?)`
	if s.driver == "postgres" {
		q = `INSERT INTO audit_log (ts, action, detail) VALUES ($1, $2, $3)`
	}
	if _, err := s.db.Exec(q, nowRFC3339(), action, detail); err != nil {
		slog.Warn("audit log write failed", "action", action, "error", err)
	}
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}
