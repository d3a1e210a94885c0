// Package state manages the SQLite database holding the local event store
// and the per-calendar sync cursors and watch channels.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Resource names the sync scopes tracked per calendar.
const (
	ResourceEvents       = "events"
	ResourceCalendarList = "calendarList"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id             TEXT    PRIMARY KEY,
    provider_id    TEXT    NOT NULL DEFAULT '',
    calendar_id    TEXT    NOT NULL,
    title          TEXT    NOT NULL DEFAULT '',
    description    TEXT    NOT NULL DEFAULT '',
    priority       INTEGER NOT NULL DEFAULT 0,
    start_date     TEXT    NOT NULL,
    end_date       TEXT    NOT NULL,
    original_start TEXT    NOT NULL DEFAULT '',
    status         TEXT    NOT NULL DEFAULT 'confirmed',
    sequence       INTEGER NOT NULL DEFAULT 0,
    rrule          TEXT    NOT NULL DEFAULT '',
    base_event_id  TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_provider ON events (calendar_id, provider_id) WHERE provider_id != '';
CREATE INDEX        IF NOT EXISTS idx_events_base     ON events (base_event_id);

CREATE TABLE IF NOT EXISTS sync_state (
    calendar_id     TEXT NOT NULL,
    resource        TEXT NOT NULL,
    next_sync_token TEXT NOT NULL DEFAULT '',
    channel_id      TEXT NOT NULL DEFAULT '',
    resource_id     TEXT NOT NULL DEFAULT '',
    expiration      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (calendar_id, resource)
);
`

// rruleSep joins RRULE lines into one column. RFC 5545 property text never
// contains a newline, so the separator is unambiguous.
const rruleSep = "\n"

// Channel identifies a provider watch channel.
type Channel struct {
	ID         string
	ResourceID string
	Expiration time.Time
}

// SyncRecord is the sync cursor and watch channel for one calendar and
// resource type.
type SyncRecord struct {
	CalendarID    string
	Resource      string
	NextSyncToken string
	Channel       Channel
}

// Store is the SQLite-backed repository for events and sync state.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the database:
// ~/.local/share/compass-sync/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "compass-sync", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
