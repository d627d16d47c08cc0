// Package cache implements the Result Cache: a persistent key→value store
// with three namespaces (document text, field result, pipeline result),
// backed by an embedded sqlite database.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Namespace partitions the cache's key space.
type Namespace string

const (
	NamespaceDocumentText    Namespace = "document_text"
	NamespaceFieldResult     Namespace = "field_result"
	NamespacePipelineResult  Namespace = "pipeline_result"
)

// Entry is one cached value plus the observability metadata the spec
// requires every entry to carry.
type Entry struct {
	Value     []byte
	Tier      string
	Timestamp time.Time
}

// Store is a sqlite-backed cache. Reads never block writes (the database
// runs in WAL journal mode, where readers and the writer do not wait on each
// other); writes are serialized by the database itself and upsert on the
// unique (namespace, key) primary key.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to a cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable cache WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			doc_fingerprint TEXT NOT NULL,
			value      BLOB NOT NULL,
			tier       TEXT NOT NULL DEFAULT '',
			timestamp  INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache_entries table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cache_fingerprint
		ON cache_entries(doc_fingerprint)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fingerprint index: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves an entry. A schema-version mismatch upstream is expected to
// be encoded into the key itself (fingerprint already combines document
// content and schema version), so a miss here is always a hard miss, never
// a stale hit.
func (s *Store) Get(ctx context.Context, ns Namespace, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value, tier, timestamp FROM cache_entries
		WHERE namespace = ? AND key = ?`, string(ns), key)

	var (
		value []byte
		tier  string
		ts    int64
	)
	err := row.Scan(&value, &tier, &ts)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	return Entry{Value: value, Tier: tier, Timestamp: time.Unix(ts, 0)}, true, nil
}

// Set stores an entry under (namespace, key), tagged with the owning
// document's fingerprint so Invalidate can purge it later.
func (s *Store) Set(ctx context.Context, ns Namespace, key, docFingerprint string, value []byte, tier string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, doc_fingerprint, value, tier, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			doc_fingerprint = excluded.doc_fingerprint,
			value = excluded.value,
			tier = excluded.tier,
			timestamp = excluded.timestamp`,
		string(ns), key, docFingerprint, value, tier, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// Invalidate purges every entry (in every namespace) belonging to a
// document fingerprint.
func (s *Store) Invalidate(ctx context.Context, docFingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE doc_fingerprint = ?`, docFingerprint)
	if err != nil {
		return fmt.Errorf("invalidate cache entries: %w", err)
	}
	return nil
}
