// Package journal implements the daily conversation aggregation and
// analysis-reconciliation core. A day's exchanges accumulate into a single
// DayEntry; per-turn classifications (sentiment score, theme list) are folded
// into day-level derived fields as turns arrive, and a date range of entries
// can be rolled up into a weekly Digest.
//
// The package is pure domain logic: it never touches storage or the network.
// Persistence belongs to the store package, adapter calls to classify/chat.
package journal

import (
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message within a day's conversation. Turns are immutable
// once created and keep their insertion order.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Sentiment is the day-level (or turn-level) sentiment label.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment normalises a classifier label ("POSITIVE", "Negative", ...)
// to a Sentiment. Unknown labels map to neutral.
func ParseSentiment(label string) Sentiment {
	switch {
	case strings.EqualFold(label, "positive"):
		return SentimentPositive
	case strings.EqualFold(label, "negative"):
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Theme is a classified topic with a confidence score in [0,1].
type Theme struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classification is the per-turn analysis produced by the classifier adapter
// for the combined user+assistant text of one exchange.
type Classification struct {
	Sentiment Sentiment
	Score     float64
	Themes    []Theme
}

// MoodColor is the user-picked mood for a day. It is independent of the
// derived sentiment fields and never participates in their computation.
type MoodColor string

const (
	MoodHappy     MoodColor = "happy"
	MoodCalm      MoodColor = "calm"
	MoodSad       MoodColor = "sad"
	MoodEnergetic MoodColor = "energetic"
	MoodAnxious   MoodColor = "anxious"
	MoodAngry     MoodColor = "angry"
)

// MoodColorHex maps each mood to its display colour.
var MoodColorHex = map[MoodColor]string{
	MoodHappy:     "#FFF44F",
	MoodCalm:      "#FFFFFF",
	MoodSad:       "#4169E1",
	MoodEnergetic: "#FF6347",
	MoodAnxious:   "#9370DB",
	MoodAngry:     "#DC143C",
}

// ValidMoodColor reports whether c is one of the known mood colours.
func ValidMoodColor(c MoodColor) bool {
	_, ok := MoodColorHex[c]
	return ok
}

// DayEntry aggregates all conversation for one calendar date. Exactly one
// DayEntry exists per date in a user's store. Conversation is append-only;
// the sentiment and theme fields are derived and recomputed on every merge.
type DayEntry struct {
	Date         Date   `json:"entry_date"`
	Conversation []Turn `json:"conversation"`

	OverallSentiment Sentiment `json:"overall_sentiment"`
	SentimentScore   float64   `json:"sentiment_score"`
	Themes           []Theme   `json:"themes"`

	// Reconciliation state for the running weighted average: the number of
	// exchanges that carried a classification, and the signed
	// positive-vs-negative balance that decides the day label. Exchanges whose
	// classification was unavailable do not contribute to either.
	ClassifiedTurns  int     `json:"classified_turns"`
	SentimentBalance float64 `json:"sentiment_balance"`

	MoodColor MoodColor `json:"mood_color,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasConversation reports whether the entry holds any turns (a mood-colour
// pick with no prior turns creates an entry with an empty conversation).
func (e *DayEntry) HasConversation() bool {
	return len(e.Conversation) > 0
}

// Clone returns a deep copy of the entry. The aggregator merges into a copy
// so callers always hand a fresh value to the store.
func (e *DayEntry) Clone() DayEntry {
	cp := *e
	cp.Conversation = make([]Turn, len(e.Conversation))
	copy(cp.Conversation, e.Conversation)
	cp.Themes = make([]Theme, len(e.Themes))
	copy(cp.Themes, e.Themes)
	return cp
}
