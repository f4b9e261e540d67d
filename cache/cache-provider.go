// Package cache stores response snapshots for the static-asset and data
// caches. Keys carry a generation prefix so that whole cache generations
// can be enumerated and purged on activation.
package cache

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// generationSeparator splits the generation name from the rest of the key.
const generationSeparator = ":"

// Provider is an interface for cache storage.
// It stores and retrieves []byte values, which represent HTTP responses.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the cached response for the given key, if it exists.
	Get(key string) ([]byte, bool, error)
	// Put stores the given response bytes under the given key,
	// replacing any previous entry.
	Put(key string, bytes []byte) error
	// Delete removes the entry for the given key, if present.
	Delete(key string)
	// Generations returns the distinct generation names present in the cache.
	Generations() ([]string, error)
	// PurgeGeneration removes every entry belonging to the named generation.
	PurgeGeneration(name string) error
	// Keys calls the given callback for each key with the given prefix.
	Keys(prefix string, cb func(string))
}

// Key builds a cache key from a generation name, method and request URI.
func Key(generation, method, uri string) string {
	return generation + generationSeparator + method + generationSeparator + uri
}

// GenerationOf extracts the generation name from a cache key.
func GenerationOf(key string) string {
	name, _, _ := strings.Cut(key, generationSeparator)
	return name
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (*SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		generation TEXT,
		received_at INTEGER,
		bytes BLOB
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS generation_idx ON cache (generation)")
	if err != nil {
		db.Close()
		return nil, err
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteCache) Get(key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM cache WHERE key = ?", key).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s *SQLiteCache) Put(key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, generation, received_at, bytes) VALUES (?, ?, ?, ?)`,
		key, GenerationOf(key), time.Now().Unix(), bytes)
	return err
}

func (s *SQLiteCache) Delete(key string) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	s.db.Exec("DELETE FROM cache WHERE key = ?", key)
}

func (s *SQLiteCache) Generations() ([]string, error) {
	names := make([]string, 0)
	rows, err := s.db.Query("SELECT DISTINCT generation FROM cache")
	if err != nil {
		return names, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteCache) PurgeGeneration(name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE generation = ?", name)
	return err
}

func (s *SQLiteCache) Keys(prefix string, cb func(string)) {
	rows, err := s.db.Query("SELECT key FROM cache WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return
		}
		cb(key)
	}
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string][]byte
}

func NewMemCache() *MemCache {
	return &MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string][]byte),
	}
}

func (m *MemCache) Get(key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	bytes, ok := m.db[key]
	return bytes, ok, nil
}

func (m *MemCache) Put(key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = bytes
	return nil
}

func (m *MemCache) Delete(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
}

func (m *MemCache) Generations() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	seen := make(map[string]bool)
	names := make([]string, 0)
	for key := range m.db {
		name := GenerationOf(key)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *MemCache) PurgeGeneration(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key := range m.db {
		if GenerationOf(key) == name {
			delete(m.db, key)
		}
	}
	return nil
}

func (m *MemCache) Keys(prefix string, cb func(string)) {
	m.mutex.RLock()
	keys := make([]string, 0)
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
}
