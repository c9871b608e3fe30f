package domain

import (
	"fmt"
	"time"

	apperrors "github.com/louisbranch/storepulse/internal/platform/errors"
)

// TrafficDelta is one observation interval's net customer movement for one
// store. Immutable once created.
type TrafficDelta struct {
	StoreID      int
	CustomersIn  int
	CustomersOut int
	OccurredAt   time.Time
}

// ErrNegativeCount rejects deltas carrying negative in/out counts.
var ErrNegativeCount = apperrors.New(apperrors.CodeInvalidArgument, "customer counts must not be negative")

// Validate rejects deltas that cannot represent a real observation.
func (d TrafficDelta) Validate() error {
	if d.CustomersIn < 0 || d.CustomersOut < 0 {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"customer counts must not be negative",
			map[string]string{
				"store_id":      fmt.Sprintf("%d", d.StoreID),
				"customers_in":  fmt.Sprintf("%d", d.CustomersIn),
				"customers_out": fmt.Sprintf("%d", d.CustomersOut),
			})
	}
	return nil
}

// NetFlow is the signed movement of this delta.
func (d TrafficDelta) NetFlow() int {
	return d.CustomersIn - d.CustomersOut
}

// ApplyOccupancy folds a delta into a running occupancy, clamping at zero.
// Exits beyond tracked entries never drive the count negative.
func ApplyOccupancy(occupancy, customersIn, customersOut int) int {
	next := occupancy + customersIn - customersOut
	if next < 0 {
		return 0
	}
	return next
}

// StoreLiveStats is the always-current per-store counter set. One per store,
// process lifetime, mutated only while processing a delta.
type StoreLiveStats struct {
	StoreID           int
	CurrentOccupancy  int
	CustomersInToday  int
	CustomersOutToday int
	LastUpdated       time.Time
}

// Apply returns the stats after folding in one delta. LastUpdated is stamped
// from the delta's own timestamp, not the wall clock.
func (s StoreLiveStats) Apply(delta TrafficDelta) StoreLiveStats {
	return StoreLiveStats{
		StoreID:           s.StoreID,
		CurrentOccupancy:  ApplyOccupancy(s.CurrentOccupancy, delta.CustomersIn, delta.CustomersOut),
		CustomersInToday:  s.CustomersInToday + delta.CustomersIn,
		CustomersOutToday: s.CustomersOutToday + delta.CustomersOut,
		LastUpdated:       delta.OccurredAt,
	}
}
