package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for the primary persistent store.
// The CRUD marketplace surface lives elsewhere; this covers only what the
// realtime layer and the background jobs consume.
type Store interface {
	// User activity, feeds the recommendation job
	RecordUserActivity(ctx context.Context, userID string, at time.Time) error
	ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]string, error)

	// Product snapshots written by the broadcast entry points
	SaveProductSnapshot(ctx context.Context, productID, kind string, data []byte) error
	ProductSnapshot(ctx context.Context, productID, kind string) ([]byte, time.Time, error)
	PurgeStaleSnapshots(ctx context.Context, olderThan time.Duration) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Snapshot kinds
const (
	SnapshotStock = "stock"
	SnapshotPrice = "price"
)
