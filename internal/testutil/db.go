// Package testutil provides shared test fixtures.
package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/bloxbuddy/wizard/internal/db"
)

// OpenTestDB opens an in-memory sqlite database with the full schema
// applied. The handle is closed when the test finishes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// A single connection keeps every query on the same in-memory
	// database.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if _, err := conn.Exec(db.Schema()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}
