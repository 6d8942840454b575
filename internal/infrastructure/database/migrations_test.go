package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ironvale/fleetcore/internal/infrastructure/database"
	_ "github.com/ironvale/fleetcore/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fleet.db")
	db, err := database.Open(context.Background(), database.Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies all migrations", func(t *testing.T) {
		db := openTestDB(t)

		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}

		tables := []string{"registrations", "devices", "device_states", "provisioning_batches", "audit_logs"}
		for _, table := range tables {
			var name string
			err := db.QueryRowContext(ctx,
				"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("table %q not created: %v", table, err)
			}
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := openTestDB(t)

		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("first Migrate() error = %v", err)
		}
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("second Migrate() error = %v", err)
		}
	})

	t.Run("records applied versions", func(t *testing.T) {
		db := openTestDB(t)

		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}

		applied, pending, err := db.GetMigrationStatus(ctx)
		if err != nil {
			t.Fatalf("GetMigrationStatus() error = %v", err)
		}
		if len(applied) == 0 {
			t.Fatal("GetMigrationStatus() returned no applied migrations after Migrate()")
		}
		if len(pending) != 0 {
			t.Errorf("GetMigrationStatus() returned %d pending migrations, want 0", len(pending))
		}
		for _, r := range applied {
			if r.Version == "" || r.Name == "" {
				t.Errorf("migration record missing version or name: %+v", r)
			}
		}
	})

	t.Run("down reverses the schema", func(t *testing.T) {
		db := openTestDB(t)

		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if err := db.MigrateDown(ctx); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}

		var count int
		err := db.QueryRowContext(ctx,
			"SELECT count(*) FROM sqlite_master WHERE type='table' AND name='devices'").Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master: %v", err)
		}
		if count != 0 {
			t.Error("devices table still present after MigrateDown()")
		}
	})
}
