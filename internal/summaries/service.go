package summaries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gpu-mode/kernelboard/internal/leaderboard"
	"github.com/gpu-mode/kernelboard/internal/rankings"
	"go.uber.org/zap"
)

var (
	errMissingCatalog  = errors.New("summaries: leaderboard catalog is required")
	errMissingRankings = errors.New("summaries: ranking source is required")
)

// LeaderboardCatalog lists leaderboard metadata.
type LeaderboardCatalog interface {
	List(ctx context.Context) ([]leaderboard.Leaderboard, error)
	GPUTypes(ctx context.Context, leaderboardIDs []int64) (map[int64][]string, error)
}

// TopUsersSource computes top users for leaderboards.
type TopUsersSource interface {
	TopUsers(ctx context.Context, leaderboardIDs []int64) (map[int64][]rankings.TopUser, error)
}

// Summary is one leaderboard in the summaries response.
type Summary struct {
	ID              int64              `json:"id"`
	Name            string             `json:"name"`
	Deadline        *time.Time         `json:"deadline"`
	GPUTypes        []string           `json:"gpu_types"`
	PriorityGPUType *string            `json:"priority_gpu_type"`
	TopUsers        []rankings.TopUser `json:"top_users"`
}

// Response is the payload of the summaries endpoint.
type Response struct {
	Leaderboards []Summary `json:"leaderboards"`
	Now          time.Time `json:"now"`
}

// ListOptions selects the read strategy.
type ListOptions struct {
	// UseCache serves concluded leaderboards from the result cache.
	UseCache bool
	// ForceRefresh recomputes and rewrites every concluded leaderboard's cache entry.
	ForceRefresh bool
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Catalog  LeaderboardCatalog
	Rankings TopUsersSource
	// Cache may be nil, in which case every leaderboard is computed.
	Cache  TopUsersCache
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service assembles leaderboard summaries for the read API.
type Service struct {
	catalog  LeaderboardCatalog
	rankings TopUsersSource
	cache    TopUsersCache
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService validates cfg and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	if cfg.Rankings == nil {
		return nil, errMissingRankings
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewResultCache(nil, nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog:  cfg.Catalog,
		rankings: cfg.Rankings,
		cache:    cache,
		clock:    clock,
		logger:   logger,
	}, nil
}

// List returns every leaderboard, newest id first, with its top users.
func (s *Service) List(ctx context.Context, options ListOptions) (Response, error) {
	started := time.Now()
	now := s.clock().UTC()

	boards, err := s.catalog.List(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("summaries: list leaderboards: %w", err)
	}

	var topUsers map[int64][]rankings.TopUser
	if options.UseCache {
		topUsers, err = s.cachedTopUsers(ctx, boards, now, options.ForceRefresh)
	} else {
		computeStarted := time.Now()
		topUsers, err = s.rankings.TopUsers(ctx, leaderboard.IDs(boards))
		if err == nil {
			s.logger.Info("leaderboard summaries computed",
				zap.String("strategy", "uncached"),
				zap.Int("leaderboards", len(boards)),
				zap.Duration("compute", time.Since(computeStarted)))
		}
	}
	if err != nil {
		return Response{}, fmt.Errorf("summaries: top users: %w", err)
	}

	gpuTypes, err := s.catalog.GPUTypes(ctx, leaderboard.IDs(boards))
	if err != nil {
		return Response{}, fmt.Errorf("summaries: gpu types: %w", err)
	}

	response := Response{Leaderboards: make([]Summary, 0, len(boards)), Now: now}
	for _, board := range boards {
		summary := Summary{
			ID:       board.ID,
			Name:     board.Name,
			Deadline: board.Deadline,
			GPUTypes: gpuTypes[board.ID],
			TopUsers: topUsers[board.ID],
		}
		if summary.GPUTypes == nil {
			summary.GPUTypes = []string{}
		}
		if gpu, ok := leaderboard.PriorityGPU(summary.GPUTypes); ok {
			summary.PriorityGPUType = &gpu
		}
		response.Leaderboards = append(response.Leaderboards, summary)
	}

	s.logger.Debug("leaderboard summaries served",
		zap.Bool("use_cache", options.UseCache),
		zap.Duration("total", time.Since(started)))
	return response, nil
}

// cachedTopUsers serves concluded leaderboards from the cache and computes the rest.
// Active leaderboards lose any cache entry so a reopened competition is never stale.
func (s *Service) cachedTopUsers(ctx context.Context, boards []leaderboard.Leaderboard, now time.Time, forceRefresh bool) (map[int64][]rankings.TopUser, error) {
	var endedIDs, activeIDs []int64
	for _, board := range boards {
		if board.Ended(now) {
			endedIDs = append(endedIDs, board.ID)
		} else {
			activeIDs = append(activeIDs, board.ID)
		}
	}

	s.cache.Invalidate(ctx, activeIDs)

	cacheStarted := time.Now()
	cached := map[int64][]rankings.TopUser{}
	if forceRefresh {
		s.logger.Info("leaderboard summaries cache bypassed", zap.Bool("force_refresh", true))
	} else {
		cached = s.cache.Get(ctx, endedIDs)
	}
	cacheElapsed := time.Since(cacheStarted)

	uncachedIDs := make([]int64, 0, len(endedIDs))
	for _, id := range endedIDs {
		if _, ok := cached[id]; !ok {
			uncachedIDs = append(uncachedIDs, id)
		}
	}

	computeStarted := time.Now()
	toCompute := append(append([]int64{}, activeIDs...), uncachedIDs...)
	computed := map[int64][]rankings.TopUser{}
	if len(toCompute) > 0 {
		var err error
		computed, err = s.rankings.TopUsers(ctx, toCompute)
		if err != nil {
			return nil, err
		}
	}
	computeElapsed := time.Since(computeStarted)

	for _, id := range uncachedIDs {
		if topUsers, ok := computed[id]; ok {
			s.cache.Set(ctx, id, topUsers)
		}
	}

	merged := make(map[int64][]rankings.TopUser, len(cached)+len(computed))
	for id, topUsers := range computed {
		merged[id] = topUsers
	}
	for id, topUsers := range cached {
		merged[id] = topUsers
	}

	s.logger.Info("leaderboard summaries computed",
		zap.String("strategy", "cached"),
		zap.Int("cached", len(cached)),
		zap.Int("uncached", len(uncachedIDs)),
		zap.Int("active", len(activeIDs)),
		zap.Int("computed", len(computed)),
		zap.Duration("cache", cacheElapsed),
		zap.Duration("compute", computeElapsed))
	return merged, nil
}
