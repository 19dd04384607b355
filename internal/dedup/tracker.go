// Package dedup suppresses re-emission of injected content within a session.
// Hook invocations are separate short-lived processes that can race, so the
// marker store is SQLite in WAL mode: concurrent INSERT OR IGNORE from two
// invocations resolves to exactly one emission without any app-level locking.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Tracker is the session-keyed fingerprint marker store
type Tracker struct {
	db   *sqlx.DB
	path string
}

// Item is a candidate piece of content for injection
type Item struct {
	Fingerprint string
	Text        string
}

// Open opens or creates the marker database
func Open(path string) (*Tracker, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=2000")
	if err != nil {
		return nil, fmt.Errorf("failed to open marker store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping marker store: %w", err)
	}

	t := &Tracker{db: db, path: path}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return t, nil
}

// Close closes the underlying database
func (t *Tracker) Close() error {
	return t.db.Close()
}

// Path returns the marker database file path
func (t *Tracker) Path() string {
	return t.path
}

func (t *Tracker) migrate() error {
	_, err := t.db.Exec(migrationMarkers)
	return err
}

const migrationMarkers = `
CREATE TABLE IF NOT EXISTS markers (
    session_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    created_at REAL NOT NULL,
    PRIMARY KEY (session_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_markers_created ON markers(created_at);
`

// Fingerprint derives a stable content hash from a record id and its
// content-relevant fields. Volatile metadata (updated_at and friends) must
// not be part of content, or churn would defeat dedup.
func Fingerprint(id, content string) string {
	sum := sha256.Sum256([]byte(content))
	return id + ":" + hex.EncodeToString(sum[:8])
}

// Filter returns the subset of items not previously emitted for the session
// and marks them emitted in the same transaction. A concurrent invocation
// inserting the same fingerprint loses the INSERT OR IGNORE race and drops
// the item.
func (t *Tracker) Filter(sessionID string, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := t.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := float64(time.Now().UnixMilli()) / 1000.0
	var fresh []Item
	for _, item := range items {
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO markers (session_id, fingerprint, created_at) VALUES (?, ?, ?)`,
			sessionID, item.Fingerprint, now,
		)
		if err != nil {
			return nil, err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if inserted > 0 {
			fresh = append(fresh, item)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Seen reports whether a fingerprint was already emitted for the session
func (t *Tracker) Seen(sessionID, fingerprint string) (bool, error) {
	var count int
	err := t.db.Get(&count,
		`SELECT COUNT(*) FROM markers WHERE session_id = ? AND fingerprint = ?`,
		sessionID, fingerprint,
	)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Reset clears all markers for a session
func (t *Tracker) Reset(sessionID string) error {
	_, err := t.db.Exec(`DELETE FROM markers WHERE session_id = ?`, sessionID)
	return err
}

// Prune drops markers older than the retention window. Sessions are
// short-lived; a week of markers is already generous.
func (t *Tracker) Prune(olderThan time.Duration) (int64, error) {
	cutoff := float64(time.Now().Add(-olderThan).UnixMilli()) / 1000.0
	res, err := t.db.Exec(`DELETE FROM markers WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SquashRepeats drops any line that duplicates the immediately preceding
// line. Cheap suppression for repeated chatter in injected output.
func SquashRepeats(lines []string) []string {
	var out []string
	for i, line := range lines {
		if i > 0 && line == lines[i-1] {
			continue
		}
		out = append(out, line)
	}
	return out
}
