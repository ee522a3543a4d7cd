package database

import (
	"errors"
	"time"

	"github.com/gpu-mode/kernelboard/internal/rankings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPruneSnapshotOutsidePodium = "2025-11-01_prune_snapshot_rows_outside_podium"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPruneSnapshotOutsidePodium, apply: pruneSnapshotOutsidePodium},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(transaction *gorm.DB) error {
			if err := migration.apply(transaction); err != nil {
				return err
			}
			return transaction.Create(&migrationRecord{
				Name:             migration.name,
				AppliedAtSeconds: time.Now().UTC().Unix(),
			}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// pruneSnapshotOutsidePodium drops rows written by older workers that tracked ranks
// beyond the podium.
func pruneSnapshotOutsidePodium(db *gorm.DB) error {
	return db.Where("rank < ? OR rank > ?", 1, rankings.PodiumSize).
		Delete(&rankings.Snapshot{}).Error
}
