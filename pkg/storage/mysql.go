package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements Store using a MySQL backend
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed store and bootstraps the schema.
// The DSN must enable parseTime.
func NewMySQLStore(dsn string, maxConnections int) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if maxConnections > 0 {
		db.SetMaxOpenConns(maxConnections)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &MySQLStore{db: db}
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initDB() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS user_activity (
			user_id VARCHAR(191) PRIMARY KEY,
			last_active_at DATETIME NOT NULL,
			INDEX idx_user_activity_last_active (last_active_at)
		)`,
		`CREATE TABLE IF NOT EXISTS product_snapshots (
			product_id VARCHAR(191) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			data BLOB,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (product_id, kind),
			INDEX idx_snapshots_updated (updated_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordUserActivity upserts the user's last activity timestamp
func (s *MySQLStore) RecordUserActivity(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_activity (user_id, last_active_at) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_active_at = VALUES(last_active_at)`,
		userID, at.UTC())
	return err
}

// ActiveUsersSince returns users active since the timestamp, newest first,
// capped to limit
func (s *MySQLStore) ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
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
func (s *MySQLStore) SaveProductSnapshot(ctx context.Context, productID, kind string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_snapshots (product_id, kind, data, updated_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`,
		productID, kind, data, time.Now().UTC())
	return err
}

// ProductSnapshot reads back a snapshot blob and its update time
func (s *MySQLStore) ProductSnapshot(ctx context.Context, productID, kind string) ([]byte, time.Time, error) {
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
func (s *MySQLStore) PurgeStaleSnapshots(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM product_snapshots WHERE updated_at < ?`,
		time.Now().Add(-olderThan).UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ping checks store health
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
