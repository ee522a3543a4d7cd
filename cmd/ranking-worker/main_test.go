package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gpu-mode/kernelboard/internal/config"
	"github.com/gpu-mode/kernelboard/internal/database"
	"github.com/gpu-mode/kernelboard/internal/rankings"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

func setModes(t *testing.T, dry, seed, test bool) {
	t.Helper()
	previousDry, previousSeed, previousTest := dryRun, seedMode, testMode
	dryRun, seedMode, testMode = dry, seed, test
	t.Cleanup(func() {
		dryRun, seedMode, testMode = previousDry, previousSeed, previousTest
	})
}

func seedSnapshotDatabase(t *testing.T) string {
	t.Helper()
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "worker.db")
	db, err := database.Open(databaseURL, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			t.Fatalf("close failed: %v", err)
		}
	}()
	if err := db.AutoMigrate(&rankings.Snapshot{}); err != nil {
		t.Fatalf("failed to create snapshot table: %v", err)
	}
	observedAt := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	rows := []rankings.Snapshot{
		{LeaderboardID: 7, GPUType: "H100", Rank: 1, UserID: "alice", Score: 1, SnapshotTime: observedAt},
		{LeaderboardID: 7, GPUType: "H100", Rank: 4, UserID: "dave", Score: 4, SnapshotTime: observedAt},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("failed to insert snapshots: %v", err)
	}
	return databaseURL
}

func workerViper(databaseURL string) *viper.Viper {
	configViper := config.NewViper()
	configViper.Set(config.KeyDatabaseURL, databaseURL)
	configViper.Set(config.KeyLogLevel, "error")
	return configViper
}

func reopen(t *testing.T, databaseURL string) *gorm.DB {
	t.Helper()
	db, err := database.Open(databaseURL, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

func TestDryRunLeavesDatabaseUntouched(t *testing.T) {
	setModes(t, true, false, false)
	databaseURL := seedSnapshotDatabase(t)

	var out bytes.Buffer
	if err := runWorker(context.Background(), workerViper(databaseURL), &out); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out.String(), "=== Current Top 3 Rankings ===") {
		t.Fatalf("expected the report on output, got %q", out.String())
	}

	db := reopen(t, databaseURL)
	var count int64
	if err := db.Model(&rankings.Snapshot{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both snapshot rows to survive a dry run, got %d", count)
	}
	if db.Migrator().HasTable("db_migrations") {
		t.Fatalf("expected no migration ledger after a dry run")
	}
}

func TestDryRunCreatesMissingSnapshotTable(t *testing.T) {
	setModes(t, true, false, false)
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "fresh.db")

	if err := runWorker(context.Background(), workerViper(databaseURL), &bytes.Buffer{}); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !reopen(t, databaseURL).Migrator().HasTable("ranking_snapshot") {
		t.Fatalf("expected the snapshot table to exist")
	}
}

func TestSeedAppliesSnapshotMigrations(t *testing.T) {
	setModes(t, false, true, false)
	databaseURL := seedSnapshotDatabase(t)

	configViper := workerViper(databaseURL)
	configViper.Set(config.KeyWebhookURL, "http://127.0.0.1:1/webhook")
	if err := runWorker(context.Background(), configViper, &bytes.Buffer{}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var applied int64
	if err := reopen(t, databaseURL).Table("db_migrations").Count(&applied).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected the snapshot migration to be recorded, got %d", applied)
	}
}
