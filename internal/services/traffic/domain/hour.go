package domain

import (
	"fmt"
	"strings"
	"time"
)

// EmptyHourLabel is the sentinel label returned for summaries over an empty
// series. Callers must treat it as "no data", not as a real peak hour.
const EmptyHourLabel = "00:00 - 01:00"

// TruncateToHour maps a timestamp onto the start of its hourly bucket.
func TruncateToHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// HourLabel renders an [hourStart, hourStart+1h) interval as "09:00 - 10:00".
func HourLabel(hourStart time.Time) string {
	return fmt.Sprintf("%02d:00 - %02d:00", hourStart.Hour(), hourStart.Add(time.Hour).Hour())
}

// HistoricalStats summarizes the rolling hourly window for one store.
type HistoricalStats struct {
	TotalVisitors    int
	PeakHour         string
	PeakHourCount    int
	SlowestHour      string
	SlowestHourCount int
}

// ParseWireClock parses the upstream "HH.mm.ss" time-of-day and anchors it to
// the day of the reference time. Events are assumed same-day; this is an
// explicit simplification carried by the upstream contract.
func ParseWireClock(clock string, reference time.Time) (time.Time, error) {
	parts := strings.Split(clock, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("malformed wire clock %q", clock)
	}
	parsed, err := time.Parse("15.04.05", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse wire clock %q: %w", clock, err)
	}
	return time.Date(
		reference.Year(), reference.Month(), reference.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0,
		reference.Location(),
	), nil
}

// FormatWireClock renders a timestamp in the upstream "HH.mm.ss" form.
func FormatWireClock(t time.Time) string {
	return t.Format("15.04.05")
}

// FormatClock renders a timestamp as the "HH:mm:ss" form used in stats views.
func FormatClock(t time.Time) string {
	return t.Format("15:04:05")
}
