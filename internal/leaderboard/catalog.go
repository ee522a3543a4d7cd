package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("leaderboard: database handle is required")

// Catalog reads leaderboard metadata from the source-of-truth tables.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog constructs a read-only catalog over db.
func NewCatalog(db *gorm.DB) (*Catalog, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Catalog{db: db}, nil
}

// List returns every leaderboard, newest id first.
func (c *Catalog) List(ctx context.Context) ([]Leaderboard, error) {
	var boards []Leaderboard
	if err := c.db.WithContext(ctx).Order("id DESC").Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("list leaderboards: %w", err)
	}
	return boards, nil
}

// GPUTypes returns the alphabetically sorted GPU types of each requested leaderboard.
// Leaderboards without GPU types are absent from the map.
func (c *Catalog) GPUTypes(ctx context.Context, leaderboardIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string, len(leaderboardIDs))
	if len(leaderboardIDs) == 0 {
		return result, nil
	}

	var rows []GPUType
	if err := c.db.WithContext(ctx).
		Where("leaderboard_id IN ?", leaderboardIDs).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list gpu types: %w", err)
	}

	for _, row := range rows {
		result[row.LeaderboardID] = append(result[row.LeaderboardID], row.GPUType)
	}
	for id := range result {
		sort.Strings(result[id])
	}
	return result, nil
}

// IDs extracts leaderboard identifiers preserving order.
func IDs(boards []Leaderboard) []int64 {
	ids := make([]int64, 0, len(boards))
	for _, board := range boards {
		ids = append(ids, board.ID)
	}
	return ids
}
