package spillover

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"courier/internal/queue"
)

// SQLiteStore keeps spillover records in a local sqlite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open creates or opens the spillover database at path and applies
// migrations.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create spillover directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open spillover database: %w", err)
	}
	// A single writer keeps sqlite happy under WAL.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS spillover_items (
    key TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    payload BLOB NOT NULL,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TEXT NOT NULL,
    saved_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spillover_item_id ON spillover_items(item_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate spillover database: %w", err)
	}
	return nil
}

// Save upserts the record for the item.
func (s *SQLiteStore) Save(ctx context.Context, item *queue.Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("save spillover item: missing id")
	}
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encode spillover metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO spillover_items (key, item_id, payload, metadata_json, status, retry_count, error_message, created_at, saved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    payload = excluded.payload,
    metadata_json = excluded.metadata_json,
    status = excluded.status,
    retry_count = excluded.retry_count,
    error_message = excluded.error_message,
    saved_at = excluded.saved_at`,
		Key(item.ID),
		item.ID,
		item.Payload,
		string(metadata),
		string(item.Status),
		item.RetryCount,
		nullableString(item.ErrorMessage),
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save spillover item %s: %w", item.ID, err)
	}
	return nil
}

// Remove deletes the record for the item id.
func (s *SQLiteStore) Remove(ctx context.Context, itemID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM spillover_items WHERE key = ?`, Key(itemID)); err != nil {
		return fmt.Errorf("remove spillover item %s: %w", itemID, err)
	}
	return nil
}

// ListAll returns every stored item in insertion order.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*queue.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT item_id, payload, metadata_json, status, retry_count, error_message, created_at
FROM spillover_items
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list spillover items: %w", err)
	}
	defer rows.Close()

	var items []*queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list spillover items: %w", err)
	}
	return items, nil
}

// Count returns the number of stored items.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spillover_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count spillover items: %w", err)
	}
	return count, nil
}

// Clear removes every record.
func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM spillover_items`)
	if err != nil {
		return 0, fmt.Errorf("clear spillover: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear spillover: %w", err)
	}
	return int(affected), nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

func scanItem(rows *sql.Rows) (*queue.Item, error) {
	var (
		item         queue.Item
		metadataJSON string
		status       string
		errorMessage sql.NullString
		createdAt    string
	)
	if err := rows.Scan(&item.ID, &item.Payload, &metadataJSON, &status, &item.RetryCount, &errorMessage, &createdAt); err != nil {
		return nil, fmt.Errorf("scan spillover item: %w", err)
	}

	parsedStatus, err := queue.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("spillover item %s: %w", item.ID, err)
	}
	item.Status = parsedStatus

	if err := json.Unmarshal([]byte(metadataJSON), &item.Metadata); err != nil {
		return nil, fmt.Errorf("decode spillover metadata for %s: %w", item.ID, err)
	}
	if errorMessage.Valid {
		item.ErrorMessage = errorMessage.String
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		item.CreatedAt = ts
	}
	return &item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
