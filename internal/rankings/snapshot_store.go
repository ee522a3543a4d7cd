package rankings

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnLeaderboardID = "leaderboard_id"
	columnGPUType       = "gpu_type"
	columnRank          = "rank"
	queryLeaderboardIn  = columnLeaderboardID + " IN ?"
	queryVacatedSlots   = columnLeaderboardID + " = ? AND (" + columnGPUType + " <> ? OR " + columnRank + " NOT IN ?)"
	orderSnapshotRows   = columnLeaderboardID + " ASC, " + columnGPUType + " ASC, " + columnRank + " ASC"
)

var snapshotUpdateColumns = []string{"user_id", "user_name", "score", "snapshot_time"}

// SnapshotStoreConfig describes the dependencies of a SnapshotStore.
type SnapshotStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SnapshotStore persists the last observed top-three occupants.
type SnapshotStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSnapshotStore validates cfg and builds a SnapshotStore.
func NewSnapshotStore(cfg SnapshotStoreConfig) (*SnapshotStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opSnapshotStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SnapshotStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load returns every persisted slot ordered by leaderboard, GPU and rank.
func (s *SnapshotStore) Load(ctx context.Context) ([]RankedEntry, error) {
	var rows []Snapshot
	if err := s.db.WithContext(ctx).Order(orderSnapshotRows).Find(&rows).Error; err != nil {
		logServiceError(s.logger, opSnapshotLoad, reasonQueryFailed, err)
		return nil, newServiceError(opSnapshotLoad, reasonQueryFailed, err)
	}
	entries := make([]RankedEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

// Upsert writes each entry into its (leaderboard, gpu, rank) slot, replacing any occupant.
func (s *SnapshotStore) Upsert(ctx context.Context, entries []RankedEntry) error {
	observedAt := s.clock().UTC()
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return upsertSlots(transaction, entries, observedAt)
	})
	if err != nil {
		logServiceError(s.logger, opSnapshotUpsert, reasonUpsertFailed, err, zap.Int("entries", len(entries)))
		return newServiceError(opSnapshotUpsert, reasonUpsertFailed, err)
	}
	return nil
}

// Prune deletes every slot of the given leaderboards.
func (s *SnapshotStore) Prune(ctx context.Context, leaderboardIDs []int64) error {
	if err := pruneLeaderboards(s.db.WithContext(ctx), leaderboardIDs); err != nil {
		logServiceError(s.logger, opSnapshotPrune, reasonPruneFailed, err, zap.Int64s("leaderboard_ids", leaderboardIDs))
		return newServiceError(opSnapshotPrune, reasonPruneFailed, err)
	}
	return nil
}

// Apply replaces the snapshot with the current standings in one transaction: current
// slots are upserted, slots the current standings no longer fill are vacated, and gone
// leaderboards are pruned.
func (s *SnapshotStore) Apply(ctx context.Context, current []RankedEntry, gone []int64) error {
	observedAt := s.clock().UTC()
	holders := SlotHolders(current)
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := upsertSlots(transaction, holders, observedAt); err != nil {
			logServiceError(s.logger, opSnapshotApply, reasonUpsertFailed, err, zap.Int("entries", len(holders)))
			return newServiceError(opSnapshotApply, reasonUpsertFailed, err)
		}
		if err := vacateSlots(transaction, holders); err != nil {
			logServiceError(s.logger, opSnapshotApply, reasonVacateFailed, err)
			return newServiceError(opSnapshotApply, reasonVacateFailed, err)
		}
		if err := pruneLeaderboards(transaction, gone); err != nil {
			logServiceError(s.logger, opSnapshotApply, reasonPruneFailed, err, zap.Int64s("leaderboard_ids", gone))
			return newServiceError(opSnapshotApply, reasonPruneFailed, err)
		}
		return nil
	})
}

func upsertSlots(transaction *gorm.DB, entries []RankedEntry, observedAt time.Time) error {
	holders := SlotHolders(entries)
	if len(holders) == 0 {
		return nil
	}
	rows := make([]Snapshot, 0, len(holders))
	for _, entry := range holders {
		rows = append(rows, snapshotFromEntry(entry, observedAt))
	}
	return transaction.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: columnLeaderboardID},
			{Name: columnGPUType},
			{Name: columnRank},
		},
		DoUpdates: clause.AssignmentColumns(snapshotUpdateColumns),
	}).Create(&rows).Error
}

// vacateSlots removes rows of a leaderboard that sit on another GPU or on a rank the
// current standings do not fill.
func vacateSlots(transaction *gorm.DB, holders []RankedEntry) error {
	type occupied struct {
		gpuType string
		ranks   []int
	}
	byBoard := make(map[int64]*occupied)
	order := make([]int64, 0)
	for _, entry := range holders {
		board, ok := byBoard[entry.LeaderboardID]
		if !ok {
			board = &occupied{gpuType: entry.GPUType}
			byBoard[entry.LeaderboardID] = board
			order = append(order, entry.LeaderboardID)
		}
		board.ranks = append(board.ranks, entry.Rank)
	}
	for _, id := range order {
		board := byBoard[id]
		if err := transaction.
			Where(queryVacatedSlots, id, board.gpuType, board.ranks).
			Delete(&Snapshot{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func pruneLeaderboards(db *gorm.DB, leaderboardIDs []int64) error {
	if len(leaderboardIDs) == 0 {
		return nil
	}
	return db.Where(queryLeaderboardIn, leaderboardIDs).Delete(&Snapshot{}).Error
}
