// Package databasetest opens migrated throwaway databases for tests.
package databasetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/platinummonkey/flock/pkg/database"
)

// Open creates a hardened SQLite database in t.TempDir(), applies all
// migrations and closes it when the test finishes.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flock.sqlite")
	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := database.Migrate(db, database.DriverSQLite, nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
