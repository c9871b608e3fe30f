// Package sqlite provides the disk-backed traffic store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/storepulse/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for traffic events and buckets.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a traffic SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS)
}

// InsertEvent appends one event row and returns it with its assigned id.
func (s *Store) InsertEvent(ctx context.Context, record storage.EventRecord) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventRecord{}, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO store_events (store_id, customers_in, customers_out, occurred_at)
VALUES (?, ?, ?, ?)
`, record.StoreID, record.CustomersIn, record.CustomersOut, toMillis(record.OccurredAt))
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("insert event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("insert event id: %w", err)
	}
	record.ID = id
	record.OccurredAt = record.OccurredAt.UTC()
	return record, nil
}

// ListRecentEvents returns at most limit events for a store, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, storeID int, limit int) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, store_id, customers_in, customers_out, occurred_at
FROM store_events
WHERE store_id = ?
ORDER BY occurred_at DESC, id DESC
LIMIT ?
`, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	var events []storage.EventRecord
	for rows.Next() {
		var record storage.EventRecord
		var occurredAt int64
		if err := rows.Scan(&record.ID, &record.StoreID, &record.CustomersIn, &record.CustomersOut, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.OccurredAt = fromMillis(occurredAt)
		events = append(events, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// FindBucket returns the bucket for the hour, or storage.ErrNotFound.
func (s *Store) FindBucket(ctx context.Context, storeID int, hourStart time.Time) (storage.BucketRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.BucketRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.BucketRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, store_id, hour_start, customers_in, customers_out, net_flow, ending_count
FROM hourly_traffic
WHERE store_id = ? AND hour_start = ?
`, storeID, toMillis(hourStart))
	record, err := scanBucket(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.BucketRecord{}, storage.ErrNotFound
		}
		return storage.BucketRecord{}, fmt.Errorf("find bucket: %w", err)
	}
	return record, nil
}

// UpsertBucket inserts or additively updates the (store, hour) bucket.
// The counters accumulate; ending occupancy is overwritten with the latest.
func (s *Store) UpsertBucket(ctx context.Context, record storage.BucketRecord) (storage.BucketRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.BucketRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.BucketRecord{}, fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO hourly_traffic (store_id, hour_start, customers_in, customers_out, net_flow, ending_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (store_id, hour_start) DO UPDATE SET
    customers_in = customers_in + excluded.customers_in,
    customers_out = customers_out + excluded.customers_out,
    net_flow = net_flow + excluded.net_flow,
    ending_count = excluded.ending_count
`, record.StoreID, toMillis(record.HourStart), record.CustomersIn, record.CustomersOut, record.NetFlow, record.EndingOccupancy); err != nil {
		return storage.BucketRecord{}, fmt.Errorf("upsert bucket: %w", err)
	}

	return s.FindBucket(ctx, record.StoreID, record.HourStart)
}

// ListBucketsSince returns buckets starting at or after since, ascending by hour.
func (s *Store) ListBucketsSince(ctx context.Context, storeID int, since time.Time) ([]storage.BucketRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, store_id, hour_start, customers_in, customers_out, net_flow, ending_count
FROM hourly_traffic
WHERE store_id = ? AND hour_start >= ?
ORDER BY hour_start ASC
`, storeID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []storage.BucketRecord
	for rows.Next() {
		record, err := scanBucket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

func scanBucket(scan func(dest ...any) error) (storage.BucketRecord, error) {
	var record storage.BucketRecord
	var hourStart int64
	if err := scan(&record.ID, &record.StoreID, &hourStart, &record.CustomersIn, &record.CustomersOut, &record.NetFlow, &record.EndingOccupancy); err != nil {
		return storage.BucketRecord{}, err
	}
	record.HourStart = fromMillis(hourStart)
	return record, nil
}
