// Package review implements the Manual Review Queue: a durable,
// append-mostly table of extractions abandoned by the automatic pipeline,
// backed by an embedded sqlite database.
package review

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the review item's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusSkipped  Status = "skipped"
)

// Item is one manual-review entry.
type Item struct {
	ID             string
	PaperPath      string
	FailureReason  string
	FieldName      string
	Status         Status
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	Resolution     string
	ResolvedValue  string
	Metadata       map[string]string
}

// Queue is the sqlite-backed Manual Review Queue.
type Queue struct {
	db *sql.DB
}

// Open creates or attaches to a review database at path.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open review db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS review_items (
			id             TEXT PRIMARY KEY,
			paper_path     TEXT NOT NULL,
			failure_reason TEXT NOT NULL,
			field_name     TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			resolved_at    INTEGER,
			resolution     TEXT NOT NULL DEFAULT '',
			resolved_value TEXT NOT NULL DEFAULT '',
			UNIQUE (paper_path, field_name)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create review_items table: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Add enqueues a review item. Enqueue is idempotent by (paper_path,
// field_name): re-adding the same pair returns the existing item's ID
// instead of creating a duplicate.
func (q *Queue) Add(ctx context.Context, paperPath, failureReason, fieldName string) (string, error) {
	existing, err := q.findByPaperAndField(ctx, paperPath, fieldName)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO review_items (id, paper_path, failure_reason, field_name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, paperPath, failureReason, fieldName, string(StatusPending), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("insert review item: %w", err)
	}
	return id, nil
}

func (q *Queue) findByPaperAndField(ctx context.Context, paperPath, fieldName string) (*Item, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, paper_path, failure_reason, field_name, status, created_at, resolved_at, resolution, resolved_value
		FROM review_items WHERE paper_path = ? AND field_name = ?`, paperPath, fieldName)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup review item: %w", err)
	}
	return &item, nil
}

func scanItem(row *sql.Row) (Item, error) {
	var (
		item       Item
		status     string
		createdAt  int64
		resolvedAt sql.NullInt64
	)
	if err := row.Scan(&item.ID, &item.PaperPath, &item.FailureReason, &item.FieldName,
		&status, &createdAt, &resolvedAt, &item.Resolution, &item.ResolvedValue); err != nil {
		return Item{}, err
	}
	item.Status = Status(status)
	item.CreatedAt = time.Unix(createdAt, 0)
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0)
		item.ResolvedAt = &t
	}
	return item, nil
}

// Get retrieves a review item by ID.
func (q *Queue) Get(ctx context.Context, id string) (Item, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, paper_path, failure_reason, field_name, status, created_at, resolved_at, resolution, resolved_value
		FROM review_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("get review item: %w", err)
	}
	return item, true, nil
}

// List returns every item with the given status.
func (q *Queue) List(ctx context.Context, status Status) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, paper_path, failure_reason, field_name, status, created_at, resolved_at, resolution, resolved_value
		FROM review_items WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item       Item
			statusStr  string
			createdAt  int64
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.PaperPath, &item.FailureReason, &item.FieldName,
			&statusStr, &createdAt, &resolvedAt, &item.Resolution, &item.ResolvedValue); err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		item.Status = Status(statusStr)
		item.CreatedAt = time.Unix(createdAt, 0)
		if resolvedAt.Valid {
			t := time.Unix(resolvedAt.Int64, 0)
			item.ResolvedAt = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Resolve marks an item resolved, recording the chosen value.
func (q *Queue) Resolve(ctx context.Context, id, resolution, resolvedValue string) error {
	return q.setTerminal(ctx, id, StatusResolved, resolution, resolvedValue)
}

// Skip marks an item skipped without a resolved value.
func (q *Queue) Skip(ctx context.Context, id, reason string) error {
	return q.setTerminal(ctx, id, StatusSkipped, reason, "")
}

func (q *Queue) setTerminal(ctx context.Context, id string, status Status, resolution, resolvedValue string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE review_items
		SET status = ?, resolved_at = ?, resolution = ?, resolved_value = ?
		WHERE id = ?`,
		string(status), time.Now().Unix(), resolution, resolvedValue, id)
	if err != nil {
		return fmt.Errorf("update review item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("review item %s not found", id)
	}
	return nil
}

// Counts returns the number of items in each status.
func (q *Queue) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM review_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count review items: %w", err)
	}
	defer rows.Close()

	counts := map[Status]int{StatusPending: 0, StatusResolved: 0, StatusSkipped: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan review count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
