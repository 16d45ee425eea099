// Package migrations embeds the history database schema into the binary.
package migrations

import "embed"

// FS holds the forward-only *.up.sql migrations, ready for database.Migrate.
//
//go:embed *.up.sql
var FS embed.FS
