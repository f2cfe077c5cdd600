// Package migrations embeds the SQL schema migrations so the application
// and the integration tests run the same files.
package migrations

import "embed"

// FS holds every versioned migration file.
//
//go:embed *.sql
var FS embed.FS
