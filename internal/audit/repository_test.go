package audit

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the audit schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// A second pool connection would see its own empty in-memory database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			user_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestCreate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("generates ID and timestamp", func(t *testing.T) {
		entry := &AuditLog{
			Action:     ActionRegistered,
			EntityType: EntityRegistration,
			EntityID:   "reg-1",
			UserID:     "user-1",
			Source:     "api",
			Details:    map[string]any{"mac_address": "aa:bb:cc:dd:ee:01"},
		}

		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entry.ID == "" {
			t.Error("Create() did not assign an ID")
		}
		if entry.CreatedAt.IsZero() {
			t.Error("Create() did not assign a timestamp")
		}

		result, err := repo.List(ctx, Filter{EntityID: "reg-1"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result.Logs) != 1 {
			t.Fatalf("List() returned %d entries, want 1", len(result.Logs))
		}

		got := result.Logs[0]
		if got.Action != ActionRegistered || got.UserID != "user-1" {
			t.Errorf("List() entry = %+v", got)
		}
		if got.Details["mac_address"] != "aa:bb:cc:dd:ee:01" {
			t.Errorf("details = %v", got.Details)
		}
	})

	t.Run("nil details stay nil", func(t *testing.T) {
		entry := &AuditLog{
			Action:     ActionDeviceOffline,
			EntityType: EntityDevice,
			EntityID:   "dev-1",
			Source:     "sweeper",
		}

		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		result, err := repo.List(ctx, Filter{EntityID: "dev-1"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result.Logs) != 1 || result.Logs[0].Details != nil {
			t.Errorf("List() = %+v, want one entry with nil details", result.Logs)
		}
	})
}

func TestList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	seed := []AuditLog{
		{Action: ActionRegistered, EntityType: EntityRegistration, EntityID: "reg-1", Source: "api"},
		{Action: ActionTokenIssued, EntityType: EntityRegistration, EntityID: "reg-1", Source: "api"},
		{Action: ActionPaired, EntityType: EntityRegistration, EntityID: "reg-1", Source: "api"},
		{Action: ActionCommandSent, EntityType: EntityCommand, EntityID: "dev-1", Source: "api"},
	}
	for i := range seed {
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	t.Run("returns newest first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 {
			t.Errorf("Total = %d, want 4", result.Total)
		}
		if result.Logs[0].Action != ActionCommandSent {
			t.Errorf("first entry = %q, want %q", result.Logs[0].Action, ActionCommandSent)
		}
	})

	t.Run("filters by action", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: ActionPaired})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 || result.Logs[0].EntityID != "reg-1" {
			t.Errorf("List() = %+v", result)
		}
	})

	t.Run("filters by entity type", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{EntityType: EntityRegistration})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 3 {
			t.Errorf("Total = %d, want 3", result.Total)
		}
	})

	t.Run("paginates", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 || len(result.Logs) != 2 {
			t.Errorf("Total = %d, page size = %d, want 4 and 2", result.Total, len(result.Logs))
		}
		if result.Limit != 2 || result.Offset != 2 {
			t.Errorf("echo limit/offset = %d/%d, want 2/2", result.Limit, result.Offset)
		}
	})

	t.Run("clamps oversized limit", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 10000})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Limit != 200 {
			t.Errorf("Limit = %d, want 200", result.Limit)
		}
	})
}

func TestListEmpty(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	result, err := repo.List(context.Background(), Filter{EntityID: fmt.Sprintf("missing-%d", time.Now().Unix())})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 0 || len(result.Logs) != 0 {
		t.Errorf("List() = %+v, want empty", result)
	}
}
