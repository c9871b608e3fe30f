package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/louisbranch/storepulse/internal/services/traffic/domain"
	"github.com/louisbranch/storepulse/internal/services/traffic/engine"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage/memory"
)

func newTestServer(t *testing.T, opts ...engine.Option) (*Server, *httptest.Server) {
	t.Helper()

	eng := engine.New(memory.New(), opts...)
	server := NewServer(eng)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return server, srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("get %s: status = %d, body = %s", path, resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func TestUpEndpoint(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestStatsEndpointReflectsProcessedDeltas(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 3, 14, 30, 0, 0, time.UTC)
	server, srv := newTestServer(t, engine.WithClock(func() time.Time { return now }))

	err := server.HandleDelta(context.Background(), domain.TrafficDelta{
		StoreID:      10,
		CustomersIn:  7,
		CustomersOut: 2,
		OccurredAt:   now,
	})
	if err != nil {
		t.Fatalf("handle delta: %v", err)
	}

	var stats statsView
	getJSON(t, srv, "/api/stats/10", &stats)

	if stats.CurrentCustomers != 5 {
		t.Fatalf("currentCustomers = %d, want 5", stats.CurrentCustomers)
	}
	if stats.CustomersInToday != 7 || stats.CustomersOutToday != 2 {
		t.Fatalf("today counters = %d/%d, want 7/2", stats.CustomersInToday, stats.CustomersOutToday)
	}
	if stats.LastUpdated != "14:30:00" {
		t.Fatalf("lastUpdated = %q, want %q", stats.LastUpdated, "14:30:00")
	}
}

func TestStatsEndpointUnknownStoreIsZeroValued(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t)

	var stats statsView
	getJSON(t, srv, "/api/stats/99", &stats)

	if stats.CurrentCustomers != 0 || stats.CustomersInToday != 0 || stats.CustomersOutToday != 0 {
		t.Fatalf("unknown store stats = %+v, want zero counters", stats)
	}
}

func TestStatsEndpointRejectsBadStoreID(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/stats/not-a-number")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestEventsEndpointAppliesDefaultLimit(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	server, srv := newTestServer(t, engine.WithClock(func() time.Time { return base }))

	for i := 0; i < 15; i++ {
		err := server.HandleDelta(context.Background(), domain.TrafficDelta{
			StoreID:     11,
			CustomersIn: 1,
			OccurredAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("handle delta %d: %v", i, err)
		}
	}

	var events []eventView
	getJSON(t, srv, "/api/events/11", &events)

	if len(events) != engine.DefaultRecentLimit {
		t.Fatalf("len(events) = %d, want %d", len(events), engine.DefaultRecentLimit)
	}
	if !events[0].Timestamp.After(events[1].Timestamp) {
		t.Fatalf("events not newest-first: %v then %v", events[0].Timestamp, events[1].Timestamp)
	}

	getJSON(t, srv, "/api/events/11?limit=3", &events)
	if len(events) != 3 {
		t.Fatalf("len(events) with limit=3 = %d, want 3", len(events))
	}
}

func TestHistoricalEndpointEmptyWindowSentinel(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t)

	var summary historicalView
	getJSON(t, srv, "/api/historical/12", &summary)

	if summary.TotalVisitors24h != 0 {
		t.Fatalf("totalVisitors24h = %d, want 0", summary.TotalVisitors24h)
	}
	if summary.PeakHour != domain.EmptyHourLabel || summary.SlowestHour != domain.EmptyHourLabel {
		t.Fatalf("sentinel labels = %q/%q, want %q", summary.PeakHour, summary.SlowestHour, domain.EmptyHourLabel)
	}
}

func TestHourlyEndpointReturnsBuckets(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 3, 10, 15, 0, 0, time.UTC)
	server, srv := newTestServer(t, engine.WithClock(func() time.Time { return now }))

	deltas := []domain.TrafficDelta{
		{StoreID: 10, CustomersIn: 4, CustomersOut: 1, OccurredAt: now.Add(-90 * time.Minute)},
		{StoreID: 10, CustomersIn: 6, CustomersOut: 2, OccurredAt: now},
	}
	for _, delta := range deltas {
		if err := server.HandleDelta(context.Background(), delta); err != nil {
			t.Fatalf("handle delta: %v", err)
		}
	}

	var buckets []bucketView
	getJSON(t, srv, "/api/hourly/10", &buckets)

	if len(buckets) != 2 {
		t.Fatalf("len(buckets) = %d, want 2", len(buckets))
	}
	if !buckets[0].HourStart.Before(buckets[1].HourStart) {
		t.Fatalf("buckets not oldest-first: %v then %v", buckets[0].HourStart, buckets[1].HourStart)
	}
	last := buckets[len(buckets)-1]
	if last.CustomersIn != 6 || last.CustomersOut != 2 || last.NetFlow != 4 {
		t.Fatalf("current bucket = %+v, want in=6 out=2 net=4", last)
	}
}

func TestHandleDeltaRejectsInvalidDelta(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	err := server.HandleDelta(context.Background(), domain.TrafficDelta{
		StoreID:     10,
		CustomersIn: -1,
		OccurredAt:  time.Now(),
	})
	if err == nil {
		t.Fatal("expected error for negative delta")
	}
}
