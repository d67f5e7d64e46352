// Package storage is the local message cache. Chat history fetched from the
// backend and messages exchanged during a session land here, so a consultation
// screen can render instantly while a fresh history fetch runs.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MessageRecord is one cached chat message. Mine marks messages this side
// sent; PeerID is the other participant regardless of direction.
type MessageRecord struct {
	ID     string
	PeerID string
	Sender string
	Body   string
	SentAt time.Time
	Status string
	Mine   bool
}

// DB wraps the SQLite message cache.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the cache database in dataDir.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "messages.db")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode keeps reads cheap while a session writes.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id        TEXT PRIMARY KEY,
			peer_id   TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			body      TEXT NOT NULL,
			sent_at   DATETIME NOT NULL,
			status    TEXT NOT NULL DEFAULT 'sent',
			mine      INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer_id, sent_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Save upserts one message. Re-saving an id overwrites body and status, which
// is what a history refresh wants.
func (d *DB) Save(m MessageRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO messages (id, peer_id, sender_id, body, sent_at, status, mine)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, status = excluded.status
	`, m.ID, m.PeerID, m.Sender, m.Body, m.SentAt.UTC(), m.Status, boolInt(m.Mine))
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// ReconcileID replaces a provisional message id with the server-assigned one.
func (d *DB) ReconcileID(oldID, newID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE messages SET id = ?, status = 'delivered' WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("reconcile message id: %w", err)
	}
	return nil
}

// MarkPeerRead flags every outbound message to peerID as read.
func (d *DB) MarkPeerRead(peerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE messages SET status = 'read' WHERE peer_id = ? AND mine = 1 AND status != 'read'`, peerID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// History returns up to limit messages with peerID, oldest first.
func (d *DB) History(peerID string, limit int) ([]MessageRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	rows, err := d.db.Query(`
		SELECT id, peer_id, sender_id, body, sent_at, status, mine
		FROM (
			SELECT * FROM messages WHERE peer_id = ? ORDER BY sent_at DESC LIMIT ?
		) ORDER BY sent_at ASC
	`, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		var mine int
		if err := rows.Scan(&m.ID, &m.PeerID, &m.Sender, &m.Body, &m.SentAt, &m.Status, &mine); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Mine = mine != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneBefore drops messages older than cutoff.
func (d *DB) PruneBefore(cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(`DELETE FROM messages WHERE sent_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
