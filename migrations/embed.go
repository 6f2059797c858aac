// Package migrations embeds the SQL schema migrations into the binary.
package migrations

import "embed"

// FS holds every *.up.sql migration at its root. Pass it to
// database.DB.Migrate.
//
//go:embed *.up.sql
var FS embed.FS
