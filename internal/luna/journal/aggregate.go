package journal

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxThemes caps the merged theme set for one day. A busy day can
// classify many distinct themes; only the highest-scoring ones are kept.
const DefaultMaxThemes = 6

// MergeOptions tunes the daily merge. The zero value uses the defaults.
type MergeOptions struct {
	// MaxThemes is the cap on the merged theme set. Default: 6.
	MaxThemes int
}

func (o MergeOptions) maxThemes() int {
	if o.MaxThemes <= 0 {
		return DefaultMaxThemes
	}
	return o.MaxThemes
}

// MergeTurn folds one exchange (user message + assistant reply) into the
// day's entry and returns the updated entry. It is a pure function: the
// existing entry is never mutated, and persistence is the caller's concern.
//
// When existing is nil a new DayEntry is created for the date, seeded
// directly from the classification. Otherwise the exchange is appended and
// the day-level sentiment is recomputed as a running weighted average over
// the classified exchanges so far; the day label follows the sign of the
// accumulated positive-vs-negative balance (ties resolve to neutral). Themes
// are union-merged keeping the maximum score per label, capped at
// MaxThemes highest-scoring entries.
//
// cls may be nil (classifier adapter unavailable). The exchange is still
// appended; the derived sentiment and theme fields keep their previous
// values (neutral, score 0 and no themes when the entry is new). A failed
// classification never blocks saving the user's words.
func MergeTurn(existing *DayEntry, date Date, userText, assistantText string, cls *Classification, now time.Time, opts MergeOptions) DayEntry {
	var entry DayEntry
	if existing == nil {
		entry = DayEntry{
			Date:             date,
			OverallSentiment: SentimentNeutral,
			CreatedAt:        now,
		}
	} else {
		entry = existing.Clone()
	}

	entry.Conversation = append(entry.Conversation,
		Turn{ID: uuid.New().String(), Role: RoleUser, Text: userText, Timestamp: now},
		Turn{ID: uuid.New().String(), Role: RoleAssistant, Text: assistantText, Timestamp: now},
	)
	entry.UpdatedAt = now

	if cls == nil {
		return entry
	}

	n := entry.ClassifiedTurns
	entry.SentimentScore = (entry.SentimentScore*float64(n) + cls.Score) / float64(n+1)
	entry.SentimentBalance += signedContribution(cls.Sentiment, cls.Score)
	entry.ClassifiedTurns = n + 1
	entry.OverallSentiment = balanceLabel(entry.SentimentBalance)
	entry.Themes = mergeThemes(entry.Themes, cls.Themes, opts.maxThemes())

	return entry
}

// signedContribution maps a turn classification onto the day balance:
// positive pushes up by its score, negative pushes down, neutral contributes
// nothing.
func signedContribution(s Sentiment, score float64) float64 {
	switch s {
	case SentimentPositive:
		return score
	case SentimentNegative:
		return -score
	default:
		return 0
	}
}

// balanceLabel derives the day label from the accumulated balance. An exact
// tie resolves to neutral.
func balanceLabel(balance float64) Sentiment {
	switch {
	case balance > 0:
		return SentimentPositive
	case balance < 0:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// mergeThemes union-merges incoming themes into the existing set. A label
// present on both sides keeps the maximum of the two scores, so a recurring
// theme is never diluted. The result is capped at max entries, highest score
// first; equal scores order by label for determinism. Merging the same theme
// twice is a no-op beyond the first merge.
func mergeThemes(existing, incoming []Theme, max int) []Theme {
	merged := make(map[string]float64, len(existing)+len(incoming))
	for _, t := range existing {
		if s, ok := merged[t.Label]; !ok || t.Score > s {
			merged[t.Label] = t.Score
		}
	}
	for _, t := range incoming {
		if s, ok := merged[t.Label]; !ok || t.Score > s {
			merged[t.Label] = t.Score
		}
	}

	out := make([]Theme, 0, len(merged))
	for label, score := range merged {
		out = append(out, Theme{Label: label, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Label < out[j].Label
	})

	if len(out) > max {
		out = out[:max]
	}
	return out
}
