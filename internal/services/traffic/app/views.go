package app

import (
	"time"

	"github.com/louisbranch/storepulse/internal/services/traffic/domain"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage"
)

// Wire frame types pushed to observers.
const (
	frameTypeInitialData = "INITIAL_DATA"
	frameTypeDelta       = "KAFKA_MESSAGE"
	frameTypeSubscribe   = "SUBSCRIBE"
)

// outboundFrame is the envelope written to the push channel.
type outboundFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// inboundFrame is a request read from an observer connection.
type inboundFrame struct {
	Type    string `json:"type"`
	StoreID int    `json:"storeId"`
}

// statsView renders live stats for one store.
type statsView struct {
	CurrentCustomers  int    `json:"currentCustomers"`
	CustomersInToday  int    `json:"customersInToday"`
	CustomersOutToday int    `json:"customersOutToday"`
	LastUpdated       string `json:"lastUpdated"`
}

// eventView renders one event log row.
type eventView struct {
	ID           int64     `json:"id"`
	StoreID      int       `json:"store_id"`
	CustomersIn  int       `json:"customers_in"`
	CustomersOut int       `json:"customers_out"`
	Timestamp    time.Time `json:"timestamp"`
}

// bucketView renders one hourly rollup row.
type bucketView struct {
	ID           int64     `json:"id"`
	StoreID      int       `json:"store_id"`
	HourStart    time.Time `json:"hour_start"`
	CustomersIn  int       `json:"customers_in"`
	CustomersOut int       `json:"customers_out"`
	NetFlow      int       `json:"net_flow"`
	EndingCount  int       `json:"ending_count"`
}

// historicalView renders the rolling-window summary.
type historicalView struct {
	TotalVisitors24h int    `json:"totalVisitors24h"`
	PeakHour         string `json:"peakHour"`
	PeakHourCount    int    `json:"peakHourCount"`
	SlowestHour      string `json:"slowestHour"`
	SlowestHourCount int    `json:"slowestHourCount"`
}

// deltaView renders one processed delta in the upstream wire shape.
type deltaView struct {
	StoreID      int    `json:"store_id"`
	CustomersIn  int    `json:"customers_in"`
	CustomersOut int    `json:"customers_out"`
	TimeStamp    string `json:"time_stamp"`
}

// initialDataView is the baseline snapshot sent on subscribe, before any
// incremental frame.
type initialDataView struct {
	CurrentStats    statsView      `json:"currentStats"`
	RecentEvents    []eventView    `json:"recentEvents"`
	HistoricalStats historicalView `json:"historicalStats"`
	HourlyTraffic   []bucketView   `json:"hourlyTraffic"`
}

func toStatsView(stats domain.StoreLiveStats) statsView {
	return statsView{
		CurrentCustomers:  stats.CurrentOccupancy,
		CustomersInToday:  stats.CustomersInToday,
		CustomersOutToday: stats.CustomersOutToday,
		LastUpdated:       domain.FormatClock(stats.LastUpdated),
	}
}

func toEventViews(events []storage.EventRecord) []eventView {
	views := make([]eventView, 0, len(events))
	for _, event := range events {
		views = append(views, eventView{
			ID:           event.ID,
			StoreID:      event.StoreID,
			CustomersIn:  event.CustomersIn,
			CustomersOut: event.CustomersOut,
			Timestamp:    event.OccurredAt,
		})
	}
	return views
}

func toBucketViews(buckets []storage.BucketRecord) []bucketView {
	views := make([]bucketView, 0, len(buckets))
	for _, bucket := range buckets {
		views = append(views, bucketView{
			ID:           bucket.ID,
			StoreID:      bucket.StoreID,
			HourStart:    bucket.HourStart,
			CustomersIn:  bucket.CustomersIn,
			CustomersOut: bucket.CustomersOut,
			NetFlow:      bucket.NetFlow,
			EndingCount:  bucket.EndingOccupancy,
		})
	}
	return views
}

func toHistoricalView(summary domain.HistoricalStats) historicalView {
	return historicalView{
		TotalVisitors24h: summary.TotalVisitors,
		PeakHour:         summary.PeakHour,
		PeakHourCount:    summary.PeakHourCount,
		SlowestHour:      summary.SlowestHour,
		SlowestHourCount: summary.SlowestHourCount,
	}
}

func toDeltaView(delta domain.TrafficDelta) deltaView {
	return deltaView{
		StoreID:      delta.StoreID,
		CustomersIn:  delta.CustomersIn,
		CustomersOut: delta.CustomersOut,
		TimeStamp:    domain.FormatWireClock(delta.OccurredAt),
	}
}
