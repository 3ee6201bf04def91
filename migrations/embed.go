// Package migrations embeds the bridge's SQL schema migrations so the binary
// can migrate its database without the files on disk.
package migrations

import "embed"

// FS holds every NNNN_name.{up,down}.sql file in this directory, at its root.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS that holds the migration files.
const Dir = "."
