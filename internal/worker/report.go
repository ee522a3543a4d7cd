package worker

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/gpu-mode/kernelboard/internal/leaderboard"
	"github.com/gpu-mode/kernelboard/internal/rankings"
)

// WriteReport prints a dry-run report for operators.
func WriteReport(out io.Writer, report CycleReport) error {
	writer := bufio.NewWriter(out)
	names := make(map[int64]string)
	for _, entry := range report.Current {
		names[entry.LeaderboardID] = entry.LeaderboardName
	}

	fmt.Fprintf(writer, "Cycle %s\n\n", report.CycleID)
	fmt.Fprintln(writer, "=== Current Top 3 Rankings ===")
	writeStandings(writer, report.Current, names)

	fmt.Fprintln(writer, "\n=== Previous Snapshot ===")
	writeStandings(writer, report.Previous, names)

	fmt.Fprintln(writer, "\n=== Changes Detected ===")
	if len(report.Messages) == 0 {
		fmt.Fprintln(writer, "  (none)")
	}
	for _, message := range report.Messages {
		fmt.Fprintf(writer, "--- %s ---\n%s\n", displayLeaderboard(message.LeaderboardID, message.LeaderboardName), message.Content)
	}

	fmt.Fprintln(writer, "\n=== Inactive leaderboards to clean up ===")
	if len(report.Changes.Gone) == 0 {
		fmt.Fprintln(writer, "  (none)")
	}
	for _, id := range report.Changes.Gone {
		fmt.Fprintf(writer, "  leaderboard %d\n", id)
	}
	return writer.Flush()
}

func writeStandings(writer io.Writer, entries []rankings.RankedEntry, names map[int64]string) {
	if len(entries) == 0 {
		fmt.Fprintln(writer, "  (empty)")
		return
	}
	var lastID int64
	var lastGPU string
	for index, entry := range entries {
		if index == 0 || entry.LeaderboardID != lastID || entry.GPUType != lastGPU {
			name := entry.LeaderboardName
			if name == "" {
				name = names[entry.LeaderboardID]
			}
			fmt.Fprintf(writer, "  %s (%s)\n", displayLeaderboard(entry.LeaderboardID, name), entry.GPUType)
			lastID, lastGPU = entry.LeaderboardID, entry.GPUType
		}
		fmt.Fprintf(writer, "    #%d %s %s\n", entry.Rank, entry.DisplayName(), leaderboard.FormatScore(entry.Score))
	}
}

func displayLeaderboard(id int64, name string) string {
	if name == "" {
		return "leaderboard " + strconv.FormatInt(id, 10)
	}
	return name
}
