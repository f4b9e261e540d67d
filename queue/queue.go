// Package queue implements the durable store for mutating requests that
// failed against the network and are awaiting replay.
package queue

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// schemaVersion is the current schema version of the store.
// Migrations run only when the on-disk version is lower.
const schemaVersion = 1

// Entry is a captured mutating request awaiting replay.
// ID is assigned by the store on insert and never changes afterwards.
// Entries are only ever mutated to set Processed/ProcessedAt, or deleted.
type Entry struct {
	ID          int64
	URL         string
	Method      string
	Headers     map[string]string
	Credentials string
	Body        []byte
	EnqueuedAt  time.Time
	Processed   bool
	ProcessedAt time.Time
}

// Store is the persistence interface for queue entries.
//
// Implementations must be thread-safe, and Delete must be a no-op for
// ids that are not (or no longer) present. The replay engine relies on
// that to tolerate duplicate trigger firings.
type Store interface {
	// Append inserts a new entry and returns its assigned id.
	Append(e Entry) (int64, error)
	// All returns every entry in id order.
	All() ([]Entry, error)
	// Delete removes the entry with the given id, if it exists.
	Delete(id int64) error
	// MarkProcessed sets the processed flag and timestamp on an entry.
	MarkProcessed(id int64, at time.Time) error
	Close() error
}

type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens (or creates) the queue store in the given file.
// If the file name is empty, an in-memory db is opened.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// migrate brings the schema up to schemaVersion.
// It only runs statements when the stored user_version is behind.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}
	if version < 1 {
		_, err := db.Exec(`CREATE TABLE IF NOT EXISTS sync_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			headers TEXT,
			credentials TEXT,
			body BLOB,
			enqueued_at INTEGER,
			processed INTEGER DEFAULT 0,
			processed_at INTEGER
		)`)
		if err != nil {
			return err
		}
	}
	_, err := db.Exec("PRAGMA user_version = 1")
	return err
}

func (s *SQLiteStore) Append(e Entry) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return 0, err
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	result, err := s.db.Exec(`INSERT INTO sync_queue
		(url, method, headers, credentials, body, enqueued_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		e.URL, e.Method, string(headers), e.Credentials, e.Body, e.EnqueuedAt.Unix())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) All() ([]Entry, error) {
	entries := make([]Entry, 0)
	rows, err := s.db.Query(`SELECT
		id, url, method, headers, credentials, body, enqueued_at, processed, processed_at
		FROM sync_queue ORDER BY id ASC`)
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		var headers string
		var enqueued int64
		var processed int
		var processedAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.URL, &e.Method, &headers, &e.Credentials,
			&e.Body, &enqueued, &processed, &processedAt); err != nil {
			return entries, err
		}
		if headers != "" {
			if err := json.Unmarshal([]byte(headers), &e.Headers); err != nil {
				return entries, err
			}
		}
		e.EnqueuedAt = time.Unix(enqueued, 0)
		e.Processed = processed != 0
		if processedAt.Valid {
			e.ProcessedAt = time.Unix(processedAt.Int64, 0)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Delete(id int64) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) MarkProcessed(id int64, at time.Time) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("UPDATE sync_queue SET processed = 1, processed_at = ? WHERE id = ?",
		at.Unix(), id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
