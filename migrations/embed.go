package migrations

import "embed"

// FS holds the ordered SQL migrations applied by cmd/migrate.
//
//go:embed *.sql
var FS embed.FS
