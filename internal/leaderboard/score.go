package leaderboard

import "fmt"

// FormatScore renders a score in seconds as microseconds with three decimals.
func FormatScore(seconds float64) string {
	return fmt.Sprintf("%.3fμs", seconds*1_000_000)
}
