package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using a SQLite backend
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite-backed store and bootstraps the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_activity (
		user_id TEXT PRIMARY KEY,
		last_active_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_user_activity_last_active ON user_activity(last_active_at DESC);

	CREATE TABLE IF NOT EXISTS product_snapshots (
		product_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		data BLOB,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (product_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON product_snapshots(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordUserActivity upserts the user's last activity timestamp
func (s *SQLiteStore) RecordUserActivity(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_activity (user_id, last_active_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		userID, at.UTC())
	return err
}

// ActiveUsersSince returns users active since the timestamp, newest first,
// capped to limit
func (s *SQLiteStore) ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM user_activity
		WHERE last_active_at >= ?
		ORDER BY last_active_at DESC
		LIMIT ?`,
		since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// SaveProductSnapshot upserts a snapshot blob for a product
func (s *SQLiteStore) SaveProductSnapshot(ctx context.Context, productID, kind string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_snapshots (product_id, kind, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, kind) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		productID, kind, data, time.Now().UTC())
	return err
}

// ProductSnapshot reads back a snapshot blob and its update time
func (s *SQLiteStore) ProductSnapshot(ctx context.Context, productID, kind string) ([]byte, time.Time, error) {
	var data []byte
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT data, updated_at FROM product_snapshots WHERE product_id = ? AND kind = ?`,
		productID, kind).Scan(&data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, updatedAt, nil
}

// PurgeStaleSnapshots deletes snapshots older than the retention window and
// reports how many rows were removed
func (s *SQLiteStore) PurgeStaleSnapshots(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM product_snapshots WHERE updated_at < ?`,
		time.Now().Add(-olderThan).UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ping checks store health
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
