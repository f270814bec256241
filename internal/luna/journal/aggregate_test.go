package journal

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func TestMergeTurn_NewEntrySeededFromClassification(t *testing.T) {
	date := mustDate(t, "2026-03-02")
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	cls := &Classification{
		Sentiment: SentimentPositive,
		Score:     0.85,
		Themes:    []Theme{{Label: "Work & Career", Score: 0.7}},
	}

	entry := MergeTurn(nil, date, "got the promotion!", "that's wonderful news", cls, now, MergeOptions{})

	if len(entry.Conversation) != 2 {
		t.Fatalf("expected 2 turns (user+assistant), got %d", len(entry.Conversation))
	}
	if entry.Conversation[0].Role != RoleUser || entry.Conversation[1].Role != RoleAssistant {
		t.Errorf("expected user then assistant, got %s then %s",
			entry.Conversation[0].Role, entry.Conversation[1].Role)
	}
	if entry.OverallSentiment != SentimentPositive {
		t.Errorf("expected positive, got %s", entry.OverallSentiment)
	}
	if entry.SentimentScore != 0.85 {
		t.Errorf("expected score 0.85, got %v", entry.SentimentScore)
	}
	if len(entry.Themes) != 1 || entry.Themes[0].Label != "Work & Career" {
		t.Errorf("expected themes seeded from classification, got %+v", entry.Themes)
	}
	if !entry.CreatedAt.Equal(now) || !entry.UpdatedAt.Equal(now) {
		t.Errorf("expected created/updated at %v, got %v / %v", now, entry.CreatedAt, entry.UpdatedAt)
	}
}

// Concrete scenario: positive 0.9 with {work:0.8}, then negative 0.3 with
// {work:0.6, health:0.7} on the same date.
func TestMergeTurn_RunningAverageAndThemeMerge(t *testing.T) {
	date := mustDate(t, "2026-03-02")
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := MergeTurn(nil, date, "great morning", "glad to hear it", &Classification{
		Sentiment: SentimentPositive,
		Score:     0.9,
		Themes:    []Theme{{Label: "work", Score: 0.8}},
	}, now, MergeOptions{})

	second := MergeTurn(&first, date, "afternoon was rough", "tell me more", &Classification{
		Sentiment: SentimentNegative,
		Score:     0.3,
		Themes:    []Theme{{Label: "work", Score: 0.6}, {Label: "health", Score: 0.7}},
	}, now.Add(6*time.Hour), MergeOptions{})

	if len(second.Conversation) != 4 {
		t.Fatalf("expected 4 turns after two exchanges, got %d", len(second.Conversation))
	}
	if math.Abs(second.SentimentScore-0.6) > 1e-9 {
		t.Errorf("expected running average 0.6, got %v", second.SentimentScore)
	}
	// Balance is +0.9 - 0.3 = +0.6 → the day still leans positive.
	if second.OverallSentiment != SentimentPositive {
		t.Errorf("expected positive day label, got %s", second.OverallSentiment)
	}

	want := map[string]float64{"work": 0.8, "health": 0.7}
	if len(second.Themes) != len(want) {
		t.Fatalf("expected %d themes, got %+v", len(want), second.Themes)
	}
	for _, th := range second.Themes {
		if want[th.Label] != th.Score {
			t.Errorf("theme %s: expected score %v, got %v", th.Label, want[th.Label], th.Score)
		}
	}

	// The first entry is untouched; MergeTurn returns a fresh copy.
	if len(first.Conversation) != 2 || len(first.Themes) != 1 {
		t.Errorf("expected first entry unchanged, got %d turns, %d themes",
			len(first.Conversation), len(first.Themes))
	}
}

// Classifier adapter failure on the first turn of a new date: the entry is
// still created with the user's words, sentiment neutral, score 0, no themes.
func TestMergeTurn_ClassifierUnavailable(t *testing.T) {
	date := mustDate(t, "2026-03-03")
	now := time.Date(2026, 3, 3, 20, 0, 0, 0, time.UTC)

	entry := MergeTurn(nil, date, "long day", "I'm here whenever you want to talk", nil, now, MergeOptions{})

	if len(entry.Conversation) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(entry.Conversation))
	}
	if entry.OverallSentiment != SentimentNeutral {
		t.Errorf("expected neutral, got %s", entry.OverallSentiment)
	}
	if entry.SentimentScore != 0 {
		t.Errorf("expected score 0, got %v", entry.SentimentScore)
	}
	if len(entry.Themes) != 0 {
		t.Errorf("expected no themes, got %+v", entry.Themes)
	}

	// A later classified turn starts the running average from scratch;
	// the degraded exchange never contributed.
	updated := MergeTurn(&entry, date, "actually it got better", "good!", &Classification{
		Sentiment: SentimentPositive,
		Score:     0.8,
	}, now.Add(time.Hour), MergeOptions{})
	if updated.SentimentScore != 0.8 {
		t.Errorf("expected score 0.8 after first classified exchange, got %v", updated.SentimentScore)
	}
	if updated.OverallSentiment != SentimentPositive {
		t.Errorf("expected positive, got %s", updated.OverallSentiment)
	}
}

func TestMergeTurn_DegradedExchangeKeepsPreviousSentiment(t *testing.T) {
	date := mustDate(t, "2026-03-04")
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)

	entry := MergeTurn(nil, date, "feeling hopeful", "lovely", &Classification{
		Sentiment: SentimentPositive,
		Score:     0.7,
		Themes:    []Theme{{Label: "growth", Score: 0.5}},
	}, now, MergeOptions{})

	degraded := MergeTurn(&entry, date, "more happened", "noted", nil, now.Add(time.Hour), MergeOptions{})

	if degraded.SentimentScore != 0.7 {
		t.Errorf("expected previous score kept, got %v", degraded.SentimentScore)
	}
	if degraded.OverallSentiment != SentimentPositive {
		t.Errorf("expected previous label kept, got %s", degraded.OverallSentiment)
	}
	if len(degraded.Themes) != 1 {
		t.Errorf("expected themes unchanged, got %+v", degraded.Themes)
	}
	if len(degraded.Conversation) != 4 {
		t.Errorf("expected exchange appended regardless, got %d turns", len(degraded.Conversation))
	}
}

// The running weighted average must match a straight mean of the per-turn
// scores, no matter how many exchanges are folded in one at a time.
func TestMergeTurn_RunningAverageMatchesBatchMean(t *testing.T) {
	date := mustDate(t, "2026-03-05")
	now := time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC)
	scores := []float64{0.9, 0.1, 0.55, 0.75, 0.3, 0.62}

	var entry *DayEntry
	var sum float64
	for i, s := range scores {
		merged := MergeTurn(entry, date, fmt.Sprintf("entry %d", i), "reply", &Classification{
			Sentiment: SentimentNeutral,
			Score:     s,
		}, now.Add(time.Duration(i)*time.Minute), MergeOptions{})
		entry = &merged
		sum += s
	}

	want := sum / float64(len(scores))
	if math.Abs(entry.SentimentScore-want) > 1e-9 {
		t.Errorf("expected mean %v, got %v", want, entry.SentimentScore)
	}
	if entry.ClassifiedTurns != len(scores) {
		t.Errorf("expected %d classified exchanges, got %d", len(scores), entry.ClassifiedTurns)
	}
	if len(entry.Conversation) != len(scores)*2 {
		t.Errorf("expected %d turns, got %d", len(scores)*2, len(entry.Conversation))
	}
}

func TestMergeTurn_BalanceTieResolvesToNeutral(t *testing.T) {
	date := mustDate(t, "2026-03-06")
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	first := MergeTurn(nil, date, "up", "ok", &Classification{Sentiment: SentimentPositive, Score: 0.5}, now, MergeOptions{})
	second := MergeTurn(&first, date, "down", "ok", &Classification{Sentiment: SentimentNegative, Score: 0.5}, now, MergeOptions{})

	if second.OverallSentiment != SentimentNeutral {
		t.Errorf("expected exact tie to resolve neutral, got %s", second.OverallSentiment)
	}
}

func TestMergeThemes_IdempotentAndMaxScore(t *testing.T) {
	existing := []Theme{{Label: "work", Score: 0.6}}

	once := mergeThemes(existing, []Theme{{Label: "work", Score: 0.4}}, DefaultMaxThemes)
	twice := mergeThemes(once, []Theme{{Label: "work", Score: 0.4}}, DefaultMaxThemes)

	if len(once) != 1 || once[0].Score != 0.6 {
		t.Errorf("expected max score 0.6 kept, got %+v", once)
	}
	if len(twice) != len(once) || twice[0] != once[0] {
		t.Errorf("expected idempotent merge, got %+v vs %+v", twice, once)
	}

	// Recurring theme with a higher score is promoted, not diluted.
	promoted := mergeThemes(existing, []Theme{{Label: "work", Score: 0.9}}, DefaultMaxThemes)
	if promoted[0].Score != 0.9 {
		t.Errorf("expected promoted score 0.9, got %v", promoted[0].Score)
	}
}

func TestMergeTurn_ThemeCapHoldsOverBusyDay(t *testing.T) {
	date := mustDate(t, "2026-03-07")
	now := time.Date(2026, 3, 7, 6, 0, 0, 0, time.UTC)

	var entry *DayEntry
	for i := range 10 {
		merged := MergeTurn(entry, date, "text", "reply", &Classification{
			Sentiment: SentimentNeutral,
			Score:     0.5,
			Themes: []Theme{
				{Label: fmt.Sprintf("theme-%02d", i), Score: 0.1 + float64(i)*0.05},
			},
		}, now.Add(time.Duration(i)*time.Minute), MergeOptions{})
		entry = &merged
	}

	if len(entry.Themes) != DefaultMaxThemes {
		t.Fatalf("expected theme set capped at %d, got %d", DefaultMaxThemes, len(entry.Themes))
	}
	// Highest-scoring themes survive: theme-09 down to theme-04.
	if entry.Themes[0].Label != "theme-09" {
		t.Errorf("expected highest-scoring theme first, got %s", entry.Themes[0].Label)
	}
	if entry.Themes[len(entry.Themes)-1].Label != "theme-04" {
		t.Errorf("expected theme-04 as the cap boundary, got %s", entry.Themes[len(entry.Themes)-1].Label)
	}
}
