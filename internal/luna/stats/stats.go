// Package stats derives journaling statistics from a run of day entries:
// totals, sentiment distribution and the current daily streak.
package stats

import (
	"github.com/bdobrica/luna/internal/luna/journal"
)

// Summary is the stats panel for one user.
type Summary struct {
	// TotalDays counts days with journaled conversation. Mood-only days are
	// excluded.
	TotalDays int `json:"total_days"`

	// Distribution counts conversation days per overall sentiment. All three
	// labels are always present.
	Distribution map[journal.Sentiment]int `json:"distribution"`

	// CurrentStreak is the number of consecutive days with any entry, ending
	// today or yesterday. A mood-only day keeps a streak alive.
	CurrentStreak int `json:"current_streak"`

	// LastEntryDate is the most recent day with conversation; zero when the
	// user has never journaled.
	LastEntryDate journal.Date `json:"last_entry_date"`
}

// Compute derives the summary from the user's entries. The entries may arrive
// in any order; today anchors the streak so the computation stays
// deterministic under test.
func Compute(entries []journal.DayEntry, today journal.Date) Summary {
	summary := Summary{
		Distribution: map[journal.Sentiment]int{
			journal.SentimentPositive: 0,
			journal.SentimentNeutral:  0,
			journal.SentimentNegative: 0,
		},
	}

	entryDays := make(map[string]bool, len(entries))
	for _, entry := range entries {
		entryDays[entry.Date.String()] = true
		if !entry.HasConversation() {
			continue
		}
		summary.TotalDays++
		summary.Distribution[entry.OverallSentiment]++
		if summary.LastEntryDate.IsZero() || entry.Date.After(summary.LastEntryDate) {
			summary.LastEntryDate = entry.Date
		}
	}

	// The streak may start today or, if today has no entry yet, yesterday.
	cursor := today
	if !entryDays[cursor.String()] {
		cursor = cursor.AddDays(-1)
	}
	for entryDays[cursor.String()] {
		summary.CurrentStreak++
		cursor = cursor.AddDays(-1)
	}
	return summary
}
