// Package engine implements the traffic aggregation core: it folds delta
// events into live per-store stats, appends the event log, and maintains the
// hourly rollup buckets.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/storepulse/internal/platform/errors"
	"github.com/louisbranch/storepulse/internal/services/traffic/domain"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage"
)

const (
	// DefaultRecentLimit caps recent-event queries when callers pass no limit.
	DefaultRecentLimit = 10
	// DefaultWindowHours is the rolling hourly window size.
	DefaultWindowHours = 24
)

// Processed reports the state produced by one accepted delta.
type Processed struct {
	Delta  domain.TrafficDelta
	Event  storage.EventRecord
	Stats  domain.StoreLiveStats
	Bucket storage.BucketRecord
}

// Engine is the aggregation core. Updates for one store are strictly
// serialized behind that store's own lock; different stores proceed in
// parallel.
type Engine struct {
	store  storage.Store
	tracer trace.Tracer
	clock  func() time.Time
	rng    *rand.Rand

	mu     sync.Mutex
	stores map[int]*storeState
}

// storeState owns the mutable live counters for a single store.
type storeState struct {
	mu    sync.Mutex
	stats domain.StoreLiveStats
}

// Option configures engine construction.
type Option func(*Engine)

// WithClock overrides the engine clock, used by queries and seeding.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithSeed fixes the random source used for synthetic history seeding.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewSource(seed))
	}
}

// New creates an engine over the given durable store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		tracer: otel.Tracer("storepulse/traffic"),
		clock:  time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stores: make(map[int]*storeState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// state returns the per-store state, creating it on first use.
func (e *Engine) state(storeID int) *storeState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.stores[storeID]
	if !ok {
		st = &storeState{stats: domain.StoreLiveStats{StoreID: storeID}}
		e.stores[storeID] = st
	}
	return st
}

// Process is the single entry point that mutates core state. It appends the
// event record, folds the delta into the live stats, and accumulates the
// hourly bucket for the delta's hour.
//
// Validation failures reject the delta before any mutation. When the event
// insert fails nothing is applied. A bucket upsert failure is returned after
// the live stats were already advanced: occupancy is not recoverable from a
// replayed counter while the bucket accumulation is, so the cache is kept and
// the error surfaced to the caller for logging.
func (e *Engine) Process(ctx context.Context, delta domain.TrafficDelta) (Processed, error) {
	ctx, span := e.tracer.Start(ctx, "engine.process",
		trace.WithAttributes(attribute.Int("store.id", delta.StoreID)))
	defer span.End()

	if err := delta.Validate(); err != nil {
		return Processed{}, err
	}

	st := e.state(delta.StoreID)
	st.mu.Lock()
	defer st.mu.Unlock()

	event, err := e.store.InsertEvent(ctx, storage.EventRecord{
		StoreID:      delta.StoreID,
		CustomersIn:  delta.CustomersIn,
		CustomersOut: delta.CustomersOut,
		OccurredAt:   delta.OccurredAt,
	})
	if err != nil {
		return Processed{}, apperrors.Wrap(apperrors.CodeStorageFailure, "insert event", err)
	}

	st.stats = st.stats.Apply(delta)

	bucket, err := e.store.UpsertBucket(ctx, storage.BucketRecord{
		StoreID:         delta.StoreID,
		HourStart:       domain.TruncateToHour(delta.OccurredAt),
		CustomersIn:     delta.CustomersIn,
		CustomersOut:    delta.CustomersOut,
		NetFlow:         delta.NetFlow(),
		EndingOccupancy: st.stats.CurrentOccupancy,
	})
	if err != nil {
		return Processed{}, apperrors.Wrap(apperrors.CodeStorageFailure, "upsert bucket", err)
	}

	return Processed{Delta: delta, Event: event, Stats: st.stats, Bucket: bucket}, nil
}

// CurrentStats returns the cached live stats for a store. Unknown stores get
// a zero-valued record rather than an error.
func (e *Engine) CurrentStats(storeID int) domain.StoreLiveStats {
	e.mu.Lock()
	st, ok := e.stores[storeID]
	e.mu.Unlock()
	if !ok {
		return domain.StoreLiveStats{StoreID: storeID, LastUpdated: e.clock()}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stats
}

// RecentEvents returns at most limit events for a store, newest first.
// A non-positive limit falls back to DefaultRecentLimit.
func (e *Engine) RecentEvents(ctx context.Context, storeID int, limit int) ([]storage.EventRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	events, err := e.store.ListRecentEvents(ctx, storeID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list recent events", err)
	}
	return events, nil
}

// HourlySeries returns the hourly buckets whose hour starts within the last
// hours hours, ascending. A non-positive hours falls back to the 24h window.
func (e *Engine) HourlySeries(ctx context.Context, storeID int, hours int) ([]storage.BucketRecord, error) {
	if hours <= 0 {
		hours = DefaultWindowHours
	}
	since := e.clock().Add(-time.Duration(hours) * time.Hour)
	buckets, err := e.store.ListBucketsSince(ctx, storeID, since)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list buckets", err)
	}
	return buckets, nil
}

// HistoricalSummary derives the rolling-window summary from the hourly
// series. An empty series produces the zero summary with the sentinel hour
// label; callers must treat that as "no data".
func (e *Engine) HistoricalSummary(ctx context.Context, storeID int) (domain.HistoricalStats, error) {
	buckets, err := e.HourlySeries(ctx, storeID, DefaultWindowHours)
	if err != nil {
		return domain.HistoricalStats{}, err
	}
	if len(buckets) == 0 {
		return domain.HistoricalStats{
			PeakHour:    domain.EmptyHourLabel,
			SlowestHour: domain.EmptyHourLabel,
		}, nil
	}

	total := 0
	peak := buckets[0]
	slowest := buckets[0]
	for _, bucket := range buckets {
		total += bucket.CustomersIn
		// First occurrence wins on ties, scanning in ascending hour order.
		if bucket.CustomersIn > peak.CustomersIn {
			peak = bucket
		}
		if bucket.CustomersIn < slowest.CustomersIn {
			slowest = bucket
		}
	}

	return domain.HistoricalStats{
		TotalVisitors:    total,
		PeakHour:         domain.HourLabel(peak.HourStart),
		PeakHourCount:    peak.CustomersIn,
		SlowestHour:      domain.HourLabel(slowest.HourStart),
		SlowestHourCount: slowest.CustomersIn,
	}, nil
}

// InitializeStore seeds 24 hours of synthetic bucket history for a store that
// has no persisted events, so first-time views are non-empty. It is
// idempotent: stores with any events are left untouched.
func (e *Engine) InitializeStore(ctx context.Context, storeID int) error {
	existing, err := e.store.ListRecentEvents(ctx, storeID, 1)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "check existing events", err)
	}
	if len(existing) > 0 {
		// Make sure the live counter entry exists for queries.
		e.state(storeID)
		return nil
	}

	st := e.state(storeID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.clock()
	running := 0
	for i := DefaultWindowHours; i >= 1; i-- {
		hourStart := domain.TruncateToHour(now.Add(-time.Duration(i) * time.Hour))
		customersIn, customersOut := e.syntheticHourCounts(hourStart.Hour())

		netFlow := customersIn - customersOut
		running += netFlow
		if running < 0 {
			running = 0
		}

		if _, err := e.store.UpsertBucket(ctx, storage.BucketRecord{
			StoreID:         storeID,
			HourStart:       hourStart,
			CustomersIn:     customersIn,
			CustomersOut:    customersOut,
			NetFlow:         netFlow,
			EndingOccupancy: running,
		}); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageFailure,
				fmt.Sprintf("seed bucket for hour %s", hourStart.Format("15:00")), err)
		}
	}

	st.stats = domain.StoreLiveStats{
		StoreID:          storeID,
		CurrentOccupancy: running,
		LastUpdated:      now,
	}
	return nil
}

// syntheticHourCounts draws plausible in/out counts shaped by time of day:
// low overnight, a morning inbound rush, busy midday, and an evening drain.
func (e *Engine) syntheticHourCounts(hour int) (customersIn, customersOut int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case hour >= 6 && hour < 10:
		return e.rng.Intn(15) + 5, e.rng.Intn(5)
	case hour >= 10 && hour < 15:
		return e.rng.Intn(20) + 15, e.rng.Intn(20) + 10
	case hour >= 15 && hour < 20:
		return e.rng.Intn(15) + 5, e.rng.Intn(20) + 10
	default:
		return e.rng.Intn(3), e.rng.Intn(5)
	}
}
