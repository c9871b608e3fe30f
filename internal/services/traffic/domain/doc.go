// Package domain defines the traffic aggregation domain model: delta events,
// live per-store stats, hourly bucket arithmetic, and the wire clock format
// used by the upstream feed.
package domain
