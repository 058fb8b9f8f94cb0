package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/db"
)

// OpenTestDB returns a migrated in-memory sqlite store. Setting TEST_DB_HOST
// runs the same tests against postgres instead.
func OpenTestDB(t *testing.T) (db.Static, func()) {
	t.Helper()
	target := db.Target{Driver: db.DriverSQLite, DSN: ":memory:"}
	if host := os.Getenv("TEST_DB_HOST"); host != "" {
		var err error
		target, err = db.ResolveTarget(context.Background(), config.DatabaseConfig{
			Driver:   db.DriverPostgres,
			Host:     host,
			Port:     5432,
			User:     "kbchat",
			Password: "kbchat_pass",
			DBName:   "kbchat_test",
		}, nil)
		if err != nil {
			t.Fatalf("resolve db: %v", err)
		}
	}
	conn, err := db.Open(context.Background(), target)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn, target.Driver); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db.Static{Handle: conn, Dialect: target.Driver}, func() {
		_ = conn.Close()
	}
}
