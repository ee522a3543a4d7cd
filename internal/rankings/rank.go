package rankings

import "sort"

// RunResult is a qualifying run: passed, public and scored.
type RunResult struct {
	LeaderboardID   int64
	LeaderboardName string
	GPUType         string
	UserID          string
	UserName        string
	Score           float64
}

type personalBestKey struct {
	leaderboardID int64
	gpuType       string
	userID        string
}

type boardKey struct {
	leaderboardID int64
	gpuType       string
}

// RankPodium reduces runs to personal bests and densely ranks them per
// leaderboard and GPU, keeping ranks up to PodiumSize. Equal scores share a rank
// and the next distinct score is ranked one past the number of distinct better scores.
// Output is ordered by leaderboard id, GPU, rank and user id.
func RankPodium(runs []RunResult) []RankedEntry {
	best := make(map[personalBestKey]RunResult, len(runs))
	for _, run := range runs {
		key := personalBestKey{leaderboardID: run.LeaderboardID, gpuType: run.GPUType, userID: run.UserID}
		existing, ok := best[key]
		if !ok || run.Score < existing.Score {
			best[key] = run
		}
	}

	boards := make(map[boardKey][]RunResult)
	for key, run := range best {
		board := boardKey{leaderboardID: key.leaderboardID, gpuType: key.gpuType}
		boards[board] = append(boards[board], run)
	}

	keys := make([]boardKey, 0, len(boards))
	for key := range boards {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].leaderboardID != keys[j].leaderboardID {
			return keys[i].leaderboardID < keys[j].leaderboardID
		}
		return keys[i].gpuType < keys[j].gpuType
	})

	var entries []RankedEntry
	for _, key := range keys {
		entries = append(entries, denseRank(boards[key])...)
	}
	return entries
}

func denseRank(personalBests []RunResult) []RankedEntry {
	sort.Slice(personalBests, func(i, j int) bool {
		if personalBests[i].Score != personalBests[j].Score {
			return personalBests[i].Score < personalBests[j].Score
		}
		return personalBests[i].UserID < personalBests[j].UserID
	})

	entries := make([]RankedEntry, 0, PodiumSize)
	rank := 0
	for index, run := range personalBests {
		if index == 0 || run.Score != personalBests[index-1].Score {
			rank++
		}
		if rank > PodiumSize {
			break
		}
		entries = append(entries, RankedEntry{
			LeaderboardID:   run.LeaderboardID,
			LeaderboardName: run.LeaderboardName,
			GPUType:         run.GPUType,
			Rank:            rank,
			UserID:          run.UserID,
			UserName:        run.UserName,
			Score:           run.Score,
		})
	}
	return entries
}
