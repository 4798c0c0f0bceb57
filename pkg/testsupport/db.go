// Package testsupport holds helpers shared by package tests: in-memory
// databases, CSV builders and golden file comparison.
package testsupport

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Migration prepares a schema on db.
type Migration func(ctx context.Context, db bun.IDB) error

// NewDB opens a private in-memory sqlite database and applies migrations.
// The database is closed when the test ends.
func NewDB(t testing.TB, migrations ...Migration) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// a single connection keeps the in-memory database alive and serializes writers
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, m := range migrations {
		if err := m(ctx, db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return db
}
