package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/storepulse/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between a legitimately absent bucket and
// transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// EventRecord is one appended row of the store event log. Rows are never
// mutated or deleted by the core; retention is an external concern.
type EventRecord struct {
	ID           int64
	StoreID      int
	CustomersIn  int
	CustomersOut int
	OccurredAt   time.Time
}

// BucketRecord is the hourly aggregate for one (store, hour) pair.
// HourStart is always truncated to the hour.
type BucketRecord struct {
	ID              int64
	StoreID         int
	HourStart       time.Time
	CustomersIn     int
	CustomersOut    int
	NetFlow         int
	EndingOccupancy int
}

// EventStore owns the append-only event log.
type EventStore interface {
	// InsertEvent appends one event row and returns it with its assigned id.
	InsertEvent(ctx context.Context, record EventRecord) (EventRecord, error)
	// ListRecentEvents returns at most limit events for a store, newest first.
	ListRecentEvents(ctx context.Context, storeID int, limit int) ([]EventRecord, error)
}

// BucketStore owns the hourly rollup rows. Implementations must hold at most
// one row per (store_id, hour_start) pair.
type BucketStore interface {
	// FindBucket returns the bucket for the hour, or ErrNotFound.
	FindBucket(ctx context.Context, storeID int, hourStart time.Time) (BucketRecord, error)
	// UpsertBucket inserts the bucket, or accumulates into the existing row:
	// customers_in/customers_out/net_flow add, ending occupancy overwrites.
	UpsertBucket(ctx context.Context, record BucketRecord) (BucketRecord, error)
	// ListBucketsSince returns buckets whose hour_start is at or after since,
	// ascending by hour_start.
	ListBucketsSince(ctx context.Context, storeID int, since time.Time) ([]BucketRecord, error)
}

// Store is the narrow persistence surface the aggregation engine depends on.
// The engine never reaches storage any other way, and never assumes whether
// the backing medium is memory or disk.
type Store interface {
	EventStore
	BucketStore
	Close() error
}
