package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("creates database file and directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "fleet.db")

		db, err := Open(ctx, Config{Path: path, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })

		if db.Path() != path {
			t.Errorf("Path() = %q, want %q", db.Path(), path)
		}
	})

	t.Run("health check passes on open database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fleet.db")

		db, err := Open(ctx, Config{Path: path, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })

		if err := db.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
	})

	t.Run("close is idempotent on nil DB", func(t *testing.T) {
		db := &DB{}
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"20260815_090000_initial_schema.up.sql", "20260815_090000", true, true},
		{"20260815_090000_initial_schema.down.sql", "20260815_090000", false, true},
		{"20260815_090000_initial_schema.sql", "", false, false},
		{"readme.md", "", false, false},
		{"20260815.up.sql", "", false, false},
	}

	for _, tt := range tests {
		version, isUp, ok := parseMigrationFilename(tt.name)
		if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
			t.Errorf("parseMigrationFilename(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.name, version, isUp, ok, tt.wantVersion, tt.wantUp, tt.wantOK)
		}
	}
}

func TestExtractMigrationName(t *testing.T) {
	got := extractMigrationName("20260815_090000_initial_schema.up.sql")
	if got != "initial_schema" {
		t.Errorf("extractMigrationName() = %q, want %q", got, "initial_schema")
	}
}
