// Package migrations contains embedded SQL migrations for the SQLite store.
package migrations

import "embed"

// FS contains embedded SQLite migrations for traffic storage.
//
//go:embed *.sql
var FS embed.FS
