package rankings

import "sort"

// EventKind classifies a ranking change.
type EventKind string

const (
	// EventDethrone marks a new occupant of rank one.
	EventDethrone EventKind = "dethrone"
	// EventPromotion marks a new occupant of rank two or three.
	EventPromotion EventKind = "promotion"
	// EventEviction marks a user who left the top three entirely.
	EventEviction EventKind = "eviction"
)

// Participant identifies a user in an event.
type Participant struct {
	UserID   string
	UserName string
}

// Event is one classified change on a leaderboard.
//
// User is the new occupant for dethrone and promotion events and the departed user
// for evictions. Displaced is set only for dethrones. Rank and Score describe the
// slot the user took; for evictions they describe the last slot the user held.
type Event struct {
	Kind            EventKind
	LeaderboardID   int64
	LeaderboardName string
	GPUType         string
	Rank            int
	User            Participant
	Displaced       *Participant
	Score           float64
}

// ChangeSet is the outcome of comparing two observations of the standings.
type ChangeSet struct {
	Events []Event
	// Gone lists leaderboards present previously but absent now, ascending.
	Gone []int64
}

// podium maps rank to its slot holder for one leaderboard on one GPU.
type podium struct {
	name    string
	gpuType string
	slots   map[int]RankedEntry
	// members maps every ranked user, tied non-holders included, to their rank.
	members map[string]int
}

func (p podium) ranks() []int {
	ranks := make([]int, 0, len(p.slots))
	for rank := range p.slots {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	return ranks
}

// groupByLeaderboard indexes entries as leaderboard -> GPU -> podium.
func groupByLeaderboard(entries []RankedEntry) map[int64]map[string]podium {
	grouped := make(map[int64]map[string]podium)
	for _, entry := range entries {
		board := podiumFor(grouped, entry)
		board.members[entry.UserID] = entry.Rank
	}
	for _, entry := range SlotHolders(entries) {
		podiumFor(grouped, entry).slots[entry.Rank] = entry
	}
	return grouped
}

func podiumFor(grouped map[int64]map[string]podium, entry RankedEntry) podium {
	byGPU, ok := grouped[entry.LeaderboardID]
	if !ok {
		byGPU = make(map[string]podium)
		grouped[entry.LeaderboardID] = byGPU
	}
	board, ok := byGPU[entry.GPUType]
	if !ok {
		board = podium{
			name:    entry.LeaderboardName,
			gpuType: entry.GPUType,
			slots:   make(map[int]RankedEntry),
			members: make(map[string]int),
		}
		byGPU[entry.GPUType] = board
	}
	return board
}

func participantOf(entry RankedEntry) Participant {
	return Participant{UserID: entry.UserID, UserName: entry.UserName}
}

// DetectChanges compares the previously persisted standings with the current ones.
// It is a pure function of its inputs.
//
// Slots without a previous occupant produce no event, so a leaderboard observed for
// the first time is silent. A slot whose previous occupant still shares that rank is
// unchanged even when a tied user with a lower id now holds it. Previous slots recorded on a GPU other than the current
// priority GPU are not compared.
func DetectChanges(previous, current []RankedEntry) ChangeSet {
	previousByBoard := groupByLeaderboard(previous)
	currentByBoard := groupByLeaderboard(current)

	currentIDs := make([]int64, 0, len(currentByBoard))
	for id := range currentByBoard {
		currentIDs = append(currentIDs, id)
	}
	sort.Slice(currentIDs, func(i, j int) bool { return currentIDs[i] < currentIDs[j] })

	var changes ChangeSet
	for _, id := range currentIDs {
		for _, currentPodium := range sortedPodiums(currentByBoard[id]) {
			previousPodium := previousByBoard[id][currentPodium.gpuType]
			changes.Events = append(changes.Events, diffPodium(id, previousPodium, currentPodium)...)
		}
	}

	for id := range previousByBoard {
		if _, ok := currentByBoard[id]; !ok {
			changes.Gone = append(changes.Gone, id)
		}
	}
	sort.Slice(changes.Gone, func(i, j int) bool { return changes.Gone[i] < changes.Gone[j] })
	return changes
}

func sortedPodiums(byGPU map[string]podium) []podium {
	podiums := make([]podium, 0, len(byGPU))
	for _, board := range byGPU {
		podiums = append(podiums, board)
	}
	sort.Slice(podiums, func(i, j int) bool { return podiums[i].gpuType < podiums[j].gpuType })
	return podiums
}

func diffPodium(leaderboardID int64, previous, current podium) []Event {
	if len(previous.slots) == 0 {
		return nil
	}

	var events []Event
	for _, rank := range current.ranks() {
		occupant := current.slots[rank]
		prior, ok := previous.slots[rank]
		if !ok || prior.UserID == occupant.UserID {
			continue
		}
		if priorRank, stillRanked := current.members[prior.UserID]; stillRanked && priorRank == rank {
			continue
		}
		event := Event{
			Kind:            EventPromotion,
			LeaderboardID:   leaderboardID,
			LeaderboardName: current.name,
			GPUType:         current.gpuType,
			Rank:            rank,
			User:            participantOf(occupant),
			Score:           occupant.Score,
		}
		if rank == 1 {
			displaced := participantOf(prior)
			event.Kind = EventDethrone
			event.Displaced = &displaced
		}
		events = append(events, event)
	}

	evicted := make(map[string]struct{})
	for _, rank := range previous.ranks() {
		prior := previous.slots[rank]
		if _, stillPresent := current.members[prior.UserID]; stillPresent {
			continue
		}
		if _, done := evicted[prior.UserID]; done {
			continue
		}
		evicted[prior.UserID] = struct{}{}
		events = append(events, Event{
			Kind:            EventEviction,
			LeaderboardID:   leaderboardID,
			LeaderboardName: current.name,
			GPUType:         current.gpuType,
			Rank:            rank,
			User:            participantOf(prior),
			Score:           prior.Score,
		})
	}
	return events
}

// LeaderboardIDs lists the distinct leaderboards of entries in first-seen order.
func LeaderboardIDs(entries []RankedEntry) []int64 {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, entry := range entries {
		if _, ok := seen[entry.LeaderboardID]; ok {
			continue
		}
		seen[entry.LeaderboardID] = struct{}{}
		ids = append(ids, entry.LeaderboardID)
	}
	return ids
}
