package rankings

import (
	"context"
	"time"

	"github.com/gpu-mode/kernelboard/internal/leaderboard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ComputerConfig describes the dependencies of a Computer.
type ComputerConfig struct {
	Database *gorm.DB
	Catalog  *leaderboard.Catalog
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Computer aggregates current top-three standings from run records.
type Computer struct {
	db      *gorm.DB
	catalog *leaderboard.Catalog
	clock   func() time.Time
	logger  *zap.Logger
}

// NewComputer validates cfg and builds a Computer.
func NewComputer(cfg ComputerConfig) (*Computer, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opComputerNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Catalog == nil {
		return nil, newServiceError(opComputerNew, reasonMissingCatalog, errMissingCatalog)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Computer{
		db:      cfg.Database,
		catalog: cfg.Catalog,
		clock:   clock,
		logger:  logger,
	}, nil
}

type runRow struct {
	LeaderboardID int64   `gorm:"column:leaderboard_id"`
	Runner        string  `gorm:"column:runner"`
	UserID        string  `gorm:"column:user_id"`
	UserName      *string `gorm:"column:user_name"`
	Score         float64 `gorm:"column:score"`
}

// ComputeActive ranks every leaderboard that is still active.
func (c *Computer) ComputeActive(ctx context.Context) ([]RankedEntry, error) {
	boards, err := c.catalog.List(ctx)
	if err != nil {
		logServiceError(c.logger, opCompute, reasonCatalogFailed, err)
		return nil, newServiceError(opCompute, reasonCatalogFailed, err)
	}
	now := c.clock()
	active := make([]leaderboard.Leaderboard, 0, len(boards))
	for _, board := range boards {
		if board.Active(now) {
			active = append(active, board)
		}
	}
	return c.Compute(ctx, active)
}

// Compute ranks the given leaderboards on their priority GPU. Leaderboards without
// GPU types or qualifying runs contribute no entries.
func (c *Computer) Compute(ctx context.Context, boards []leaderboard.Leaderboard) ([]RankedEntry, error) {
	if len(boards) == 0 {
		return nil, nil
	}

	ids := leaderboard.IDs(boards)
	gpuTypes, err := c.catalog.GPUTypes(ctx, ids)
	if err != nil {
		logServiceError(c.logger, opCompute, reasonCatalogFailed, err)
		return nil, newServiceError(opCompute, reasonCatalogFailed, err)
	}

	names := make(map[int64]string, len(boards))
	for _, board := range boards {
		names[board.ID] = board.Name
	}
	priority := make(map[int64]string, len(gpuTypes))
	runners := make([]string, 0, len(gpuTypes))
	seenRunner := make(map[string]struct{}, len(gpuTypes))
	for id, types := range gpuTypes {
		gpu, ok := leaderboard.PriorityGPU(types)
		if !ok {
			continue
		}
		priority[id] = gpu
		if _, seen := seenRunner[gpu]; !seen {
			seenRunner[gpu] = struct{}{}
			runners = append(runners, gpu)
		}
	}
	if len(priority) == 0 {
		return nil, nil
	}

	var rows []runRow
	if err := c.db.WithContext(ctx).
		Table("runs AS r").
		Select("s.leaderboard_id, r.runner, s.user_id, u.user_name, r.score").
		Joins("JOIN submission AS s ON r.submission_id = s.id").
		Joins("LEFT JOIN user_info AS u ON s.user_id = u.id").
		Where("s.leaderboard_id IN ?", ids).
		Where("r.runner IN ?", runners).
		Where("r.secret = ? AND r.passed = ? AND r.score IS NOT NULL", false, true).
		Scan(&rows).Error; err != nil {
		logServiceError(c.logger, opCompute, reasonQueryFailed, err, zap.Int("leaderboards", len(ids)))
		return nil, newServiceError(opCompute, reasonQueryFailed, err)
	}

	runs := make([]RunResult, 0, len(rows))
	for _, row := range rows {
		if priority[row.LeaderboardID] != row.Runner {
			continue
		}
		run := RunResult{
			LeaderboardID:   row.LeaderboardID,
			LeaderboardName: names[row.LeaderboardID],
			GPUType:         row.Runner,
			UserID:          row.UserID,
			Score:           row.Score,
		}
		if row.UserName != nil {
			run.UserName = *row.UserName
		}
		runs = append(runs, run)
	}

	entries := RankPodium(runs)
	c.logger.Debug("rankings computed",
		zap.Int("leaderboards", len(ids)),
		zap.Int("runs", len(runs)),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// TopUsers ranks the given leaderboards and returns their public top-three views.
// Tied users are all included. Leaderboards without qualifying runs are absent.
func (c *Computer) TopUsers(ctx context.Context, leaderboardIDs []int64) (map[int64][]TopUser, error) {
	boards := make([]leaderboard.Leaderboard, 0, len(leaderboardIDs))
	for _, id := range leaderboardIDs {
		boards = append(boards, leaderboard.Leaderboard{ID: id})
	}
	entries, err := c.Compute(ctx, boards)
	if err != nil {
		return nil, err
	}
	result := make(map[int64][]TopUser, len(leaderboardIDs))
	for _, entry := range entries {
		result[entry.LeaderboardID] = append(result[entry.LeaderboardID], entry.topUser())
	}
	return result, nil
}
