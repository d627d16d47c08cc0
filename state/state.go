// Package state implements the State Store: an atomic, crash-safe
// checkpoint of per-document status and result, enabling resumable batch
// runs. Row-level updates are durable sqlite transactions; full-checkpoint
// export snapshots the in-memory state under a lock and writes it via
// write-temp-then-rename, so serialization never traverses a mutating map.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/scireview/extractcore/pipeline"
)

// Status is the per-document outcome recorded in the checkpoint.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"

	// StatusSkipped marks a document the circuit breaker refused to dispatch.
	// Unlike StatusFailure, it does not count as processed: a reset-and-retry
	// pass must redispatch these documents rather than skip them forever.
	StatusSkipped Status = "skipped"
)

// Failure is the recorded cause when a document's status is StatusFailure.
type Failure struct {
	ErrorType string
	Message   string
}

// Checkpoint is a point-in-time, race-free snapshot of batch progress.
type Checkpoint struct {
	ProcessedFiles []string
	Results        map[string]pipeline.Result
	Failures       map[string]Failure
}

// Store is the sqlite-backed, mutex-guarded State Store.
type Store struct {
	db   *sql.DB
	path string

	mu        sync.Mutex
	processed map[string]bool
	results   map[string]pipeline.Result
	failures  map[string]Failure
}

// Open creates or attaches to a state database at path and loads any prior
// checkpoint into memory.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoint_entries (
			filename   TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			result     BLOB,
			error_type TEXT,
			message    TEXT
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint_entries table: %w", err)
	}

	s := &Store{
		db:        db,
		path:      path,
		processed: map[string]bool{},
		results:   map[string]pipeline.Result{},
		failures:  map[string]Failure{},
	}
	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename, status, result, error_type, message FROM checkpoint_entries`)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	for rows.Next() {
		var (
			filename, status                string
			result                           []byte
			errorType, message               sql.NullString
		)
		if err := rows.Scan(&filename, &status, &result, &errorType, &message); err != nil {
			return fmt.Errorf("scan checkpoint row: %w", err)
		}
		switch Status(status) {
		case StatusSuccess:
			s.processed[filename] = true
			if result != nil {
				var r pipeline.Result
				if err := json.Unmarshal(result, &r); err != nil {
					return fmt.Errorf("decode stored result for %s: %w", filename, err)
				}
				s.results[filename] = r
			}
		case StatusSkipped:
			// Deliberately not marked processed: see StatusSkipped.
			s.failures[filename] = Failure{ErrorType: errorType.String, Message: message.String}
		default:
			s.processed[filename] = true
			s.failures[filename] = Failure{ErrorType: errorType.String, Message: message.String}
		}
	}
	return rows.Err()
}

// IsProcessed reports whether filename was already recorded in a prior run,
// so the batch executor can skip it on resume.
func (s *Store) IsProcessed(filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[filename]
}

// UpdateResult records a successful document's result. Called once per
// completed document; persists immediately via a sqlite transaction.
func (s *Store) UpdateResult(ctx context.Context, filename string, result pipeline.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result for %s: %w", filename, err)
	}

	s.mu.Lock()
	s.processed[filename] = true
	s.results[filename] = result
	delete(s.failures, filename)
	s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_entries (filename, status, result, error_type, message)
		VALUES (?, ?, ?, NULL, NULL)
		ON CONFLICT(filename) DO UPDATE SET
			status = excluded.status, result = excluded.result,
			error_type = NULL, message = NULL`,
		filename, string(StatusSuccess), payload)
	if err != nil {
		return fmt.Errorf("persist result for %s: %w", filename, err)
	}
	return nil
}

// UpdateFailure records a failed document. The document is still added to
// processed, matching the checkpoint's processed_files semantics: a
// resumed run skips documents with a recorded outcome, success or failure.
func (s *Store) UpdateFailure(ctx context.Context, filename string, failure Failure) error {
	s.mu.Lock()
	s.processed[filename] = true
	s.failures[filename] = failure
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_entries (filename, status, result, error_type, message)
		VALUES (?, ?, NULL, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			status = excluded.status, result = NULL,
			error_type = excluded.error_type, message = excluded.message`,
		filename, string(StatusFailure), failure.ErrorType, failure.Message)
	if err != nil {
		return fmt.Errorf("persist failure for %s: %w", filename, err)
	}
	return nil
}

// UpdateSkip records a document the circuit breaker refused to dispatch.
// It is not added to processed, so a later resumed run (after the breaker
// is reset) will dispatch the document instead of skipping it forever.
func (s *Store) UpdateSkip(ctx context.Context, filename string, failure Failure) error {
	s.mu.Lock()
	s.failures[filename] = failure
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_entries (filename, status, result, error_type, message)
		VALUES (?, ?, NULL, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			status = excluded.status, result = NULL,
			error_type = excluded.error_type, message = excluded.message`,
		filename, string(StatusSkipped), failure.ErrorType, failure.Message)
	if err != nil {
		return fmt.Errorf("persist skip for %s: %w", filename, err)
	}
	return nil
}

// Snapshot copies the current in-memory checkpoint under lock, so callers
// (Save/SaveAsync) never iterate a structure another goroutine is mutating.
func (s *Store) Snapshot() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := Checkpoint{
		ProcessedFiles: make([]string, 0, len(s.processed)),
		Results:        make(map[string]pipeline.Result, len(s.results)),
		Failures:       make(map[string]Failure, len(s.failures)),
	}
	for f := range s.processed {
		cp.ProcessedFiles = append(cp.ProcessedFiles, f)
	}
	for f, r := range s.results {
		cp.Results[f] = r
	}
	for f, fail := range s.failures {
		cp.Failures[f] = fail
	}
	return cp
}

// Save snapshots the checkpoint and writes it to a JSON file at exportPath
// atomically: write to a temp file in the same directory, fsync, then
// rename over the destination.
func (s *Store) Save(exportPath string) error {
	cp := s.Snapshot()
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint snapshot: %w", err)
	}

	dir := filepath.Dir(exportPath)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync checkpoint temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, exportPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// SaveAsync runs Save in a background goroutine and reports any error on
// the returned channel (buffered so the goroutine never blocks on send).
func (s *Store) SaveAsync(exportPath string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Save(exportPath)
	}()
	return done
}

// LoadExported reads a checkpoint previously written by Save, for tests and
// external tooling that want to inspect it without reopening the sqlite db.
func LoadExported(exportPath string) (Checkpoint, error) {
	data, err := os.ReadFile(exportPath)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint file: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint file: %w", err)
	}
	return cp, nil
}
