package rankings

import "time"

// PodiumSize is the deepest rank tracked for notifications and summaries.
const PodiumSize = 3

// RankedEntry is one occupant of a top-three position on a leaderboard's priority GPU.
type RankedEntry struct {
	LeaderboardID   int64
	LeaderboardName string
	GPUType         string
	Rank            int
	UserID          string
	UserName        string
	Score           float64
}

// DisplayName prefers the user name and falls back to the user id.
func (e RankedEntry) DisplayName() string {
	if e.UserName != "" {
		return e.UserName
	}
	return e.UserID
}

type slotKey struct {
	leaderboardID int64
	gpuType       string
	rank          int
}

func (e RankedEntry) slot() slotKey {
	return slotKey{leaderboardID: e.LeaderboardID, gpuType: e.GPUType, rank: e.Rank}
}

// SlotHolders keeps one occupant per (leaderboard, gpu, rank). When users tie on a
// rank the lowest user id holds the slot, matching the order Computer emits.
func SlotHolders(entries []RankedEntry) []RankedEntry {
	holders := make(map[slotKey]int, len(entries))
	result := make([]RankedEntry, 0, len(entries))
	for _, entry := range entries {
		key := entry.slot()
		index, seen := holders[key]
		if !seen {
			holders[key] = len(result)
			result = append(result, entry)
			continue
		}
		if entry.UserID < result[index].UserID {
			result[index] = entry
		}
	}
	return result
}

// Snapshot is the persisted occupant of a top-three slot from the last cycle.
type Snapshot struct {
	LeaderboardID int64     `gorm:"column:leaderboard_id;primaryKey;autoIncrement:false"`
	GPUType       string    `gorm:"column:gpu_type;primaryKey;type:text"`
	Rank          int       `gorm:"column:rank;primaryKey;autoIncrement:false"`
	UserID        string    `gorm:"column:user_id;type:text;not null"`
	UserName      *string   `gorm:"column:user_name;type:text"`
	Score         float64   `gorm:"column:score;type:numeric;not null"`
	SnapshotTime  time.Time `gorm:"column:snapshot_time;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "ranking_snapshot"
}

func snapshotFromEntry(entry RankedEntry, observedAt time.Time) Snapshot {
	var userName *string
	if entry.UserName != "" {
		name := entry.UserName
		userName = &name
	}
	return Snapshot{
		LeaderboardID: entry.LeaderboardID,
		GPUType:       entry.GPUType,
		Rank:          entry.Rank,
		UserID:        entry.UserID,
		UserName:      userName,
		Score:         entry.Score,
		SnapshotTime:  observedAt,
	}
}

func (s Snapshot) entry() RankedEntry {
	entry := RankedEntry{
		LeaderboardID: s.LeaderboardID,
		GPUType:       s.GPUType,
		Rank:          s.Rank,
		UserID:        s.UserID,
		Score:         s.Score,
	}
	if s.UserName != nil {
		entry.UserName = *s.UserName
	}
	return entry
}

// TopUser is the public view of a ranked entry served by the read API.
type TopUser struct {
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	UserName *string `json:"user_name"`
}

func (e RankedEntry) topUser() TopUser {
	top := TopUser{Rank: e.Rank, Score: e.Score}
	if e.UserName != "" {
		name := e.UserName
		top.UserName = &name
	}
	return top
}
