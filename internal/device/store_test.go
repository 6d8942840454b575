package device

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestStore_Resolve(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	store := NewStore(repo, 16)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dev-001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("resolves uncached device from repository", func(t *testing.T) {
		d, err := store.Resolve(ctx, "dev-001")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if d.ID != "dev-001" {
			t.Errorf("ID = %q, want dev-001", d.ID)
		}
	})

	t.Run("returns ErrDeviceNotFound for missing device", func(t *testing.T) {
		_, err := store.Resolve(ctx, "dev-missing")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Resolve() error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("returned device is a copy", func(t *testing.T) {
		d, err := store.Resolve(ctx, "dev-001")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		d.IsActive = false
		d.Config["poisoned"] = true

		again, err := store.Resolve(ctx, "dev-001")
		if err != nil {
			t.Fatalf("second Resolve() error = %v", err)
		}
		if !again.IsActive {
			t.Error("cache mutated through returned copy")
		}
		if _, ok := again.Config["poisoned"]; ok {
			t.Error("cached config mutated through returned copy")
		}
	})

	t.Run("invalidate forces refetch", func(t *testing.T) {
		seen := testDevice("dev-invalidate")
		if err := repo.Create(ctx, seen); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := store.Resolve(ctx, "dev-invalidate"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}

		if err := repo.UpdatePresence(ctx, "dev-invalidate", true, seen.CreatedAt); err != nil {
			t.Fatalf("UpdatePresence() error = %v", err)
		}
		store.Invalidate("dev-invalidate")

		d, err := store.Resolve(ctx, "dev-invalidate")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !d.IsOnline {
			t.Error("Resolve() returned stale cache entry after Invalidate()")
		}
	})
}

func TestStore_Refresh(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	store := NewStore(repo, 16)
	ctx := context.Background()

	for _, id := range []string{"dev-a", "dev-b", "dev-c"} {
		if err := repo.Create(ctx, testDevice(id)); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	if err := store.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	devices, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("List() returned %d devices, want 3", len(devices))
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()

	t.Run("cold cache returns copies", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewSQLiteRepository(db)
		store := NewStore(repo, 16)

		if err := repo.Create(ctx, testDevice("dev-list")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		devices, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(devices) != 1 {
			t.Fatalf("List() returned %d devices, want 1", len(devices))
		}
		devices[0].Config["poisoned"] = true

		again, err := store.List(ctx)
		if err != nil {
			t.Fatalf("second List() error = %v", err)
		}
		if _, ok := again[0].Config["poisoned"]; ok {
			t.Error("device mutated through a previously returned copy")
		}
	})

	t.Run("refreshed empty cache is authoritative", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewSQLiteRepository(db)
		store := NewStore(repo, 16)

		if err := store.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}

		// A row created behind the cache's back stays invisible to List
		// until the next Refresh.
		if err := repo.Create(ctx, testDevice("dev-late")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		devices, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(devices) != 0 {
			t.Errorf("List() returned %d devices, want 0 from the refreshed cache", len(devices))
		}
	})
}

func TestStore_ResolveRegistration(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	store := NewStore(repo, 16)
	ctx := context.Background()

	insertTestRegistration(t, db, "dev-reg", "AA:BB:CC:11:22:33", StatusProvisioned)

	reg, err := store.ResolveRegistration(ctx, "dev-reg")
	if err != nil {
		t.Fatalf("ResolveRegistration() error = %v", err)
	}
	if reg.Status != StatusProvisioned {
		t.Errorf("Status = %q, want %q", reg.Status, StatusProvisioned)
	}

	if _, err := store.ResolveRegistration(ctx, "dev-missing"); !errors.Is(err, ErrRegistrationNotFound) {
		t.Errorf("ResolveRegistration() error = %v, want ErrRegistrationNotFound", err)
	}
}

func TestStore_LockDevice(t *testing.T) {
	store := NewStore(nil, 8)

	t.Run("serialises same device", func(t *testing.T) {
		var counter int
		var wg sync.WaitGroup

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := store.LockDevice("dev-contended")
				defer unlock()
				counter++
			}()
		}
		wg.Wait()

		if counter != 50 {
			t.Errorf("counter = %d, want 50", counter)
		}
	})

	t.Run("different shards do not block each other", func(t *testing.T) {
		first := "dev-1"
		second := ""
		for _, candidate := range []string{"dev-2", "dev-3", "dev-4", "dev-5", "dev-6", "dev-7", "dev-8", "dev-9"} {
			if store.shardFor(candidate) != store.shardFor(first) {
				second = candidate
				break
			}
		}
		if second == "" {
			t.Fatal("no candidate device id landed on a different shard")
		}

		unlock1 := store.LockDevice(first)
		defer unlock1()

		done := make(chan struct{})
		go func() {
			unlock2 := store.LockDevice(second)
			unlock2()
			close(done)
		}()

		<-done
	})
}
