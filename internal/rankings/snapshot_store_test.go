package rankings

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T, models ...interface{}) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "rankings.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(models...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func newTestSnapshotStore(testContext *testing.T) (*SnapshotStore, *gorm.DB) {
	testContext.Helper()
	database := openTestDatabase(testContext, &Snapshot{})
	store, err := NewSnapshotStore(SnapshotStoreConfig{
		Database: database,
		Clock: func() time.Time {
			return time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		testContext.Fatalf("failed to create snapshot store: %v", err)
	}
	return store, database
}

func stripNames(entries []RankedEntry) []RankedEntry {
	stripped := make([]RankedEntry, 0, len(entries))
	for _, entry := range entries {
		entry.LeaderboardName = ""
		stripped = append(stripped, entry)
	}
	return stripped
}

func TestNewSnapshotStoreRequiresDatabase(testContext *testing.T) {
	if _, err := NewSnapshotStore(SnapshotStoreConfig{}); err == nil {
		testContext.Fatalf("expected error without database")
	}
}

func TestSnapshotStoreUpsertIsIdempotent(testContext *testing.T) {
	store, database := newTestSnapshotStore(testContext)
	ctx := context.Background()
	current := []RankedEntry{entry(1, "carol", 0.9), entry(2, "alice", 1.0), entry(3, "bob", 1.3)}

	for attempt := 0; attempt < 2; attempt++ {
		if err := store.Upsert(ctx, current); err != nil {
			testContext.Fatalf("upsert %d failed: %v", attempt, err)
		}
	}

	var count int64
	if err := database.Model(&Snapshot{}).Count(&count).Error; err != nil {
		testContext.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		testContext.Fatalf("expected three rows, got %d", count)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, stripNames(current)) {
		testContext.Fatalf("unexpected snapshot:\n got %+v\nwant %+v", loaded, stripNames(current))
	}
	if changes := DetectChanges(loaded, current); len(changes.Events) != 0 {
		testContext.Fatalf("expected no changes against persisted standings, got %+v", changes.Events)
	}
}

func TestSnapshotStoreUpsertReplacesOccupant(testContext *testing.T) {
	store, _ := newTestSnapshotStore(testContext)
	ctx := context.Background()

	if err := store.Upsert(ctx, []RankedEntry{entry(1, "alice", 1.0)}); err != nil {
		testContext.Fatalf("upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, []RankedEntry{entry(1, "carol", 0.9)}); err != nil {
		testContext.Fatalf("upsert failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].UserID != "carol" || loaded[0].Score != 0.9 {
		testContext.Fatalf("expected carol to hold rank 1, got %+v", loaded)
	}
}

func TestSnapshotStorePrune(testContext *testing.T) {
	store, _ := newTestSnapshotStore(testContext)
	ctx := context.Background()
	kept := entry(1, "alice", 1.0)
	removed := entry(1, "bob", 2.0)
	removed.LeaderboardID = 12

	if err := store.Upsert(ctx, []RankedEntry{kept, removed}); err != nil {
		testContext.Fatalf("upsert failed: %v", err)
	}
	if err := store.Prune(ctx, []int64{12}); err != nil {
		testContext.Fatalf("prune failed: %v", err)
	}
	if err := store.Prune(ctx, nil); err != nil {
		testContext.Fatalf("empty prune failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].LeaderboardID != 11 {
		testContext.Fatalf("expected only leaderboard 11 to remain, got %+v", loaded)
	}
}

func TestSnapshotStoreApplyVacatesAndPrunes(testContext *testing.T) {
	store, _ := newTestSnapshotStore(testContext)
	ctx := context.Background()
	gone := entry(1, "zed", 3.0)
	gone.LeaderboardID = 40

	previous := []RankedEntry{entry(1, "alice", 1.0), entry(2, "bob", 1.2), entry(3, "carol", 1.3), gone}
	if err := store.Upsert(ctx, previous); err != nil {
		testContext.Fatalf("upsert failed: %v", err)
	}

	current := []RankedEntry{entry(1, "alice", 1.0), entry(2, "dave", 1.1)}
	if err := store.Apply(ctx, current, []int64{40}); err != nil {
		testContext.Fatalf("apply failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, stripNames(current)) {
		testContext.Fatalf("unexpected snapshot after apply:\n got %+v\nwant %+v", loaded, stripNames(current))
	}

	// a second apply with the same standings must not report the vacated rank again.
	if changes := DetectChanges(loaded, current); len(changes.Events) != 0 {
		testContext.Fatalf("expected no repeated events, got %+v", changes.Events)
	}
}

func TestSnapshotStoreApplyDropsRowsOnPreviousGPU(testContext *testing.T) {
	store, _ := newTestSnapshotStore(testContext)
	ctx := context.Background()

	if err := store.Upsert(ctx, []RankedEntry{entry(1, "alice", 1.0)}); err != nil {
		testContext.Fatalf("upsert failed: %v", err)
	}
	moved := entry(1, "bob", 0.4)
	moved.GPUType = "B200"
	if err := store.Apply(ctx, []RankedEntry{moved}, nil); err != nil {
		testContext.Fatalf("apply failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].GPUType != "B200" {
		testContext.Fatalf("expected only the B200 slot, got %+v", loaded)
	}
}
