package migrations

import "embed"

// FS contains embedded SQLite migrations for voting session storage.
//
//go:embed *.sql
var FS embed.FS
