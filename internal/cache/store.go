// Package cache keeps short-lived copies of store reads in SQLite so repeated
// lookups, including those from separate batchrelay runs sharing the cache
// file, do not hit the remote API. Writes through the uploader invalidate the
// affected collection.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    collection TEXT    NOT NULL,
    key        TEXT    NOT NULL,
    payload    BLOB    NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (collection, key)
);

CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache_entries (expires_at);
`

// Entry is one cached read.
type Entry struct {
	Collection string
	Key        string
	Payload    []byte
	ExpiresAt  time.Time
}

// Store is the SQLite-backed read cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenMemory opens an empty in-memory cache.
func OpenMemory() (*Store, error) {
	return Open(MemoryPath)
}

// Open opens (or creates) the cache database at path and applies the schema.
// [MemoryPath] keeps everything in memory for the life of the Store.
func Open(path string) (*Store, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cache database %q: %w", path, err)
	}

	// One connection: each :memory: connection is its own database, and file
	// databases get a single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection. An in-memory cache is
// discarded.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Get returns the live entry for (collection, key), or (nil, nil) if there is
// none or it has expired.
func (s *Store) Get(ctx context.Context, collection, key string) (*Entry, error) {
	const q = `
		SELECT collection, key, payload, expires_at
		FROM cache_entries WHERE collection = ? AND key = ? AND expires_at > ?`
	row := s.db.QueryRowContext(ctx, q, collection, key, s.now().UnixMilli())
	return scanEntry(row)
}

// Put stores payload under (collection, key) for ttl, replacing any previous
// entry. A ttl of zero or less stores nothing.
func (s *Store) Put(ctx context.Context, collection, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	const q = `
		INSERT INTO cache_entries (collection, key, payload, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
		    payload    = excluded.payload,
		    expires_at = excluded.expires_at`

	expires := s.now().Add(ttl).UnixMilli()
	if _, err := s.db.ExecContext(ctx, q, collection, key, payload, expires); err != nil {
		return fmt.Errorf("caching %s/%q: %w", collection, key, err)
	}
	return nil
}

// InvalidateCollection drops every entry for collection.
func (s *Store) InvalidateCollection(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("invalidating cache for %s: %w", collection, err)
	}
	return nil
}

// InvalidateAll empties the cache.
func (s *Store) InvalidateAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	return nil
}

// PurgeExpired removes expired entries and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return count, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanEntry can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var expires int64

	err := s.Scan(&e.Collection, &e.Key, &e.Payload, &expires)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning cache row: %w", err)
	}
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	return &e, nil
}
