package database

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/gpu-mode/kernelboard/internal/leaderboard"
	"github.com/gpu-mode/kernelboard/internal/rankings"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	schemeSQLite       = "sqlite://"
	postgresSchema     = "leaderboard"
	searchPathParam    = "search_path"
	dialectPostgres    = "postgres"
	dialectSQLite      = "sqlite"
	maxPostgresConns   = 4
	maxSQLiteOpenConns = 1
)

var errMissingDatabaseURL = errors.New("database url is required")

// Open connects to the database named by databaseURL. postgres:// and postgresql://
// URLs select Postgres with the leaderboard schema on the search path; sqlite:// URLs
// and bare paths select an embedded SQLite file whose source tables are created on
// open for local runs.
func Open(databaseURL string, logger *zap.Logger) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(databaseURL)
	if trimmed == "" {
		return nil, errMissingDatabaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	if isPostgresURL(trimmed) {
		dsn, err := withSearchPath(trimmed)
		if err != nil {
			return nil, err
		}
		db, err := gorm.Open(postgres.Open(dsn), config)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(maxPostgresConns)
		logger.Info("database initialized", zap.String("dialect", dialectPostgres))
		return db, nil
	}

	path := strings.TrimPrefix(trimmed, schemeSQLite)
	db, err := gorm.Open(sqlite.Open(path), config)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxSQLiteOpenConns)

	if err := db.AutoMigrate(
		&leaderboard.Leaderboard{},
		&leaderboard.GPUType{},
		&leaderboard.Submission{},
		&leaderboard.Run{},
		&leaderboard.UserInfo{},
	); err != nil {
		return nil, err
	}
	logger.Info("database initialized", zap.String("dialect", dialectSQLite), zap.String("path", path))
	return db, nil
}

// CreateSnapshotTable creates the snapshot table when missing and touches nothing else.
func CreateSnapshotTable(db *gorm.DB) error {
	if db.Migrator().HasTable(&rankings.Snapshot{}) {
		return nil
	}
	if err := db.Migrator().CreateTable(&rankings.Snapshot{}); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// EnsureSnapshotSchema creates the snapshot table when missing and applies pending
// snapshot migrations.
func EnsureSnapshotSchema(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&rankings.Snapshot{}, &migrationRecord{}); err != nil {
		return fmt.Errorf("migrate snapshot schema: %w", err)
	}
	return applyMigrations(db, logger)
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isPostgresURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func withSearchPath(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	query := parsed.Query()
	if query.Get(searchPathParam) == "" {
		query.Set(searchPathParam, postgresSchema)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}
