package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSQLiteStateLedger_Append(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ledger := NewSQLiteStateLedger(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("appends an observation", func(t *testing.T) {
		obs := Observation{Key: "power", Value: "true", Type: TypeBoolean}
		if err := ledger.Append(ctx, "dev-001", obs, time.Now()); err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		latest, err := ledger.Latest(ctx, "dev-001", "power")
		if err != nil {
			t.Fatalf("Latest() error = %v", err)
		}
		if latest == nil {
			t.Fatal("Latest() = nil after Append()")
		}
		if latest.Value != "true" || latest.Type != TypeBoolean {
			t.Errorf("Latest() = (%q, %q), want (true, boolean)", latest.Value, latest.Type)
		}
	})

	t.Run("rejects invalid state type", func(t *testing.T) {
		obs := Observation{Key: "power", Value: "x", Type: StateType("blob")}
		err := ledger.Append(ctx, "dev-001", obs, time.Now())
		if !errors.Is(err, ErrInvalidStateType) {
			t.Errorf("Append() error = %v, want ErrInvalidStateType", err)
		}
	})

	t.Run("rejects empty device id", func(t *testing.T) {
		obs := Observation{Key: "power", Value: "true", Type: TypeBoolean}
		if err := ledger.Append(ctx, "", obs, time.Now()); err == nil {
			t.Error("Append() with empty device id succeeded")
		}
	})
}

func TestSQLiteStateLedger_AppendBurst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ledger := NewSQLiteStateLedger(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-burst")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("preserves observation order and refreshes last seen once", func(t *testing.T) {
		at := time.Date(2026, 8, 22, 14, 30, 0, 0, time.UTC)
		burst := []Observation{
			{Key: "power", Value: "true", Type: TypeBoolean},
			{Key: "brightness", Value: "80", Type: TypeNumber},
			{Key: "label", Value: "kitchen", Type: TypeString},
			{Key: "meta", Value: `{"x":1}`, Type: TypeJSON},
		}

		if err := ledger.AppendBurst(ctx, "dev-burst", burst, at); err != nil {
			t.Fatalf("AppendBurst() error = %v", err)
		}

		history, err := ledger.History(ctx, "dev-burst", "", 10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 4 {
			t.Fatalf("History() returned %d rows, want 4", len(history))
		}

		// History is newest-first; the burst order is the reverse.
		wantKeys := []string{"meta", "label", "brightness", "power"}
		wantTypes := []StateType{TypeJSON, TypeString, TypeNumber, TypeBoolean}
		for i, entry := range history {
			if entry.Key != wantKeys[i] {
				t.Errorf("history[%d].Key = %q, want %q", i, entry.Key, wantKeys[i])
			}
			if entry.Type != wantTypes[i] {
				t.Errorf("history[%d].Type = %q, want %q", i, entry.Type, wantTypes[i])
			}
		}

		d, err := repo.GetByID(ctx, "dev-burst")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if d.LastSeen == nil || !d.LastSeen.Equal(at) {
			t.Errorf("LastSeen = %v, want %v", d.LastSeen, at)
		}
	})

	t.Run("rolls back whole burst for unknown device", func(t *testing.T) {
		burst := []Observation{
			{Key: "power", Value: "true", Type: TypeBoolean},
		}
		err := ledger.AppendBurst(ctx, "dev-ghost", burst, time.Now())
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Fatalf("AppendBurst() error = %v, want ErrDeviceNotFound", err)
		}

		history, err := ledger.History(ctx, "dev-ghost", "", 10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 0 {
			t.Errorf("History() returned %d rows after rolled-back burst, want 0", len(history))
		}
	})

	t.Run("rejects burst containing invalid type before writing", func(t *testing.T) {
		burst := []Observation{
			{Key: "power", Value: "true", Type: TypeBoolean},
			{Key: "bad", Value: "x", Type: StateType("blob")},
		}
		err := ledger.AppendBurst(ctx, "dev-burst", burst, time.Now())
		if !errors.Is(err, ErrInvalidStateType) {
			t.Fatalf("AppendBurst() error = %v, want ErrInvalidStateType", err)
		}

		history, err := ledger.History(ctx, "dev-burst", "power", 10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		// only the row from the earlier successful burst
		if len(history) != 1 {
			t.Errorf("History() returned %d power rows, want 1", len(history))
		}
	})
}

func TestSQLiteStateLedger_Latest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ledger := NewSQLiteStateLedger(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-latest")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("returns nil for never-reported key", func(t *testing.T) {
		latest, err := ledger.Latest(ctx, "dev-latest", "power")
		if err != nil {
			t.Fatalf("Latest() error = %v", err)
		}
		if latest != nil {
			t.Errorf("Latest() = %+v, want nil", latest)
		}
	})

	t.Run("returns newest row for the key", func(t *testing.T) {
		base := time.Date(2026, 8, 22, 15, 0, 0, 0, time.UTC)
		for i, value := range []string{"10", "20", "30"} {
			obs := Observation{Key: "brightness", Value: value, Type: TypeNumber}
			if err := ledger.Append(ctx, "dev-latest", obs, base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		latest, err := ledger.Latest(ctx, "dev-latest", "brightness")
		if err != nil {
			t.Fatalf("Latest() error = %v", err)
		}
		if latest == nil || latest.Value != "30" {
			t.Errorf("Latest() = %+v, want value 30", latest)
		}
	})
}

func TestSQLiteStateLedger_LatestAll(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ledger := NewSQLiteStateLedger(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-snapshot")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("empty for device with no observations", func(t *testing.T) {
		entries, err := ledger.LatestAll(ctx, "dev-snapshot")
		if err != nil {
			t.Fatalf("LatestAll() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("LatestAll() returned %d rows, want 0", len(entries))
		}
	})

	t.Run("newest row per key, ordered by key", func(t *testing.T) {
		base := time.Date(2026, 8, 22, 17, 0, 0, 0, time.UTC)
		seq := []Observation{
			{Key: "power", Value: "false", Type: TypeBoolean},
			{Key: "brightness", Value: "40", Type: TypeNumber},
			{Key: "power", Value: "true", Type: TypeBoolean},
			{Key: "label", Value: "kitchen", Type: TypeString},
		}
		for i, obs := range seq {
			if err := ledger.Append(ctx, "dev-snapshot", obs, base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		entries, err := ledger.LatestAll(ctx, "dev-snapshot")
		if err != nil {
			t.Fatalf("LatestAll() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("LatestAll() returned %d rows, want 3", len(entries))
		}

		want := []struct {
			key   string
			value string
		}{
			{"brightness", "40"},
			{"label", "kitchen"},
			{"power", "true"},
		}
		for i, w := range want {
			if entries[i].Key != w.key || entries[i].Value != w.value {
				t.Errorf("LatestAll()[%d] = %s=%s, want %s=%s",
					i, entries[i].Key, entries[i].Value, w.key, w.value)
			}
		}
	})
}

func TestSQLiteStateLedger_History(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ledger := NewSQLiteStateLedger(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-history")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	base := time.Date(2026, 8, 22, 16, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		obs := Observation{Key: "temperature", Value: "21.5", Type: TypeNumber}
		if err := ledger.Append(ctx, "dev-history", obs, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	t.Run("honours limit", func(t *testing.T) {
		history, err := ledger.History(ctx, "dev-history", "temperature", 3)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 3 {
			t.Errorf("History() returned %d rows, want 3", len(history))
		}
	})

	t.Run("applies default limit for non-positive input", func(t *testing.T) {
		history, err := ledger.History(ctx, "dev-history", "temperature", 0)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 5 {
			t.Errorf("History() returned %d rows, want 5", len(history))
		}
	})
}
