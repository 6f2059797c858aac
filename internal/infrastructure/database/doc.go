// Package database provides SQLite connectivity for local state history.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Forward-only schema migrations from an fs.FS
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
package database
