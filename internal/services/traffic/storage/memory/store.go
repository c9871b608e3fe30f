// Package memory provides an in-memory traffic store for development and
// tests. It satisfies the same contract and uniqueness invariants as the
// SQLite backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/storepulse/internal/services/traffic/storage"
)

// Store keeps events and hourly buckets in process memory.
type Store struct {
	mu           sync.Mutex
	nextEventID  int64
	nextBucketID int64
	events       []storage.EventRecord
	buckets      map[bucketKey]*storage.BucketRecord
}

type bucketKey struct {
	storeID   int
	hourStart int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		buckets: make(map[bucketKey]*storage.BucketRecord),
	}
}

// InsertEvent appends one event row.
func (s *Store) InsertEvent(ctx context.Context, record storage.EventRecord) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	record.ID = s.nextEventID
	record.OccurredAt = record.OccurredAt.UTC()
	s.events = append(s.events, record)
	return record, nil
}

// ListRecentEvents returns at most limit events for a store, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, storeID int, limit int) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]storage.EventRecord, 0, limit)
	for _, record := range s.events {
		if record.StoreID == storeID {
			matches = append(matches, record)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].OccurredAt.Equal(matches[j].OccurredAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].OccurredAt.After(matches[j].OccurredAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindBucket returns the bucket for the hour, or storage.ErrNotFound.
func (s *Store) FindBucket(ctx context.Context, storeID int, hourStart time.Time) (storage.BucketRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.BucketRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.buckets[bucketKey{storeID: storeID, hourStart: hourStart.UTC().Unix()}]
	if !ok {
		return storage.BucketRecord{}, storage.ErrNotFound
	}
	return *bucket, nil
}

// UpsertBucket inserts or additively updates the (store, hour) bucket.
func (s *Store) UpsertBucket(ctx context.Context, record storage.BucketRecord) (storage.BucketRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.BucketRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.HourStart = record.HourStart.UTC()
	key := bucketKey{storeID: record.StoreID, hourStart: record.HourStart.Unix()}
	if existing, ok := s.buckets[key]; ok {
		existing.CustomersIn += record.CustomersIn
		existing.CustomersOut += record.CustomersOut
		existing.NetFlow += record.NetFlow
		existing.EndingOccupancy = record.EndingOccupancy
		return *existing, nil
	}

	s.nextBucketID++
	record.ID = s.nextBucketID
	stored := record
	s.buckets[key] = &stored
	return stored, nil
}

// ListBucketsSince returns buckets starting at or after since, ascending by hour.
func (s *Store) ListBucketsSince(ctx context.Context, storeID int, since time.Time) ([]storage.BucketRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []storage.BucketRecord
	for _, bucket := range s.buckets {
		if bucket.StoreID == storeID && !bucket.HourStart.Before(since.UTC()) {
			matches = append(matches, *bucket)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].HourStart.Before(matches[j].HourStart)
	})
	return matches, nil
}

// Close releases nothing; it exists to satisfy the store contract.
func (s *Store) Close() error {
	return nil
}
