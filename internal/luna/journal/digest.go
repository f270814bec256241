package journal

import (
	"sort"
	"unicode/utf8"
)

const (
	// DefaultTopThemes is the number of theme-frequency rows exposed by a digest.
	DefaultTopThemes = 5

	// DefaultMaxHighlights is the number of highlight excerpts in a digest.
	DefaultMaxHighlights = 3

	// highlightExcerptRunes bounds the excerpt taken from a highlighted day.
	highlightExcerptRunes = 140
)

// DigestOptions tunes digest construction. The zero value uses the defaults.
type DigestOptions struct {
	TopThemes     int
	MaxHighlights int
}

func (o DigestOptions) topThemes() int {
	if o.TopThemes <= 0 {
		return DefaultTopThemes
	}
	return o.TopThemes
}

func (o DigestOptions) maxHighlights() int {
	if o.MaxHighlights <= 0 {
		return DefaultMaxHighlights
	}
	return o.MaxHighlights
}

// ThemeFrequency is one row of a digest's merged theme table.
type ThemeFrequency struct {
	Label     string  `json:"label"`
	Count     int     `json:"count"`
	AvgScore  float64 `json:"avg_score"`
	FirstSeen Date    `json:"first_seen"`
}

// Highlight is a representative day chosen for its extreme sentiment
// confidence, seeding the human-readable weekly summary.
type Highlight struct {
	Date      Date      `json:"date"`
	Sentiment Sentiment `json:"sentiment"`
	Score     float64   `json:"score"`
	Excerpt   string    `json:"excerpt"`
}

// Digest is the transient rollup of a date range of DayEntries. It is never
// persisted; callers rebuild it on demand.
type Digest struct {
	Days         int               `json:"days"`
	Distribution map[Sentiment]int `json:"distribution"`
	TopThemes    []ThemeFrequency  `json:"top_themes"`
	Highlights   []Highlight       `json:"highlights"`
}

// BuildDigest rolls a date-ascending sequence of DayEntries into a Digest.
// It is a pure function of its input: identical entries always produce an
// identical digest. An empty input yields zero counts and no highlights.
func BuildDigest(entries []DayEntry, opts DigestOptions) Digest {
	d := Digest{
		Days: len(entries),
		Distribution: map[Sentiment]int{
			SentimentPositive: 0,
			SentimentNeutral:  0,
			SentimentNegative: 0,
		},
	}
	if len(entries) == 0 {
		return d
	}

	for _, e := range entries {
		d.Distribution[e.OverallSentiment]++
	}

	d.TopThemes = topThemes(entries, opts.topThemes())
	d.Highlights = pickHighlights(entries, opts.maxHighlights())
	return d
}

// themeAccum tracks one label's accumulation across the range.
type themeAccum struct {
	label     string
	count     int
	sumScore  float64
	firstSeen Date
}

// topThemes accumulates count and score sums per label across all entries and
// returns the top-N rows: by count, then higher average score, then earlier
// first occurrence, then label. The ordering is fully deterministic.
func topThemes(entries []DayEntry, n int) []ThemeFrequency {
	accum := make(map[string]*themeAccum)
	for _, e := range entries {
		for _, t := range e.Themes {
			a, ok := accum[t.Label]
			if !ok {
				a = &themeAccum{label: t.Label, firstSeen: e.Date}
				accum[t.Label] = a
			}
			a.count++
			a.sumScore += t.Score
		}
	}
	if len(accum) == 0 {
		return nil
	}

	rows := make([]*themeAccum, 0, len(accum))
	for _, a := range accum {
		rows = append(rows, a)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		ai := rows[i].sumScore / float64(rows[i].count)
		aj := rows[j].sumScore / float64(rows[j].count)
		if ai != aj {
			return ai > aj
		}
		if !rows[i].firstSeen.Equal(rows[j].firstSeen) {
			return rows[i].firstSeen.Before(rows[j].firstSeen)
		}
		return rows[i].label < rows[j].label
	})

	if len(rows) > n {
		rows = rows[:n]
	}
	out := make([]ThemeFrequency, len(rows))
	for i, a := range rows {
		out[i] = ThemeFrequency{
			Label:     a.label,
			Count:     a.count,
			AvgScore:  a.sumScore / float64(a.count),
			FirstSeen: a.firstSeen,
		}
	}
	return out
}

// pickHighlights selects up to max days with the most extreme sentiment
// confidence: best positive first, then best negative, alternating down the
// rankings. Neutral days never make the cut. Fewer qualifying days than max
// simply yields fewer highlights.
func pickHighlights(entries []DayEntry, max int) []Highlight {
	var positives, negatives []DayEntry
	for _, e := range entries {
		switch e.OverallSentiment {
		case SentimentPositive:
			positives = append(positives, e)
		case SentimentNegative:
			negatives = append(negatives, e)
		}
	}
	byScoreDesc := func(s []DayEntry) {
		sort.Slice(s, func(i, j int) bool {
			if s[i].SentimentScore != s[j].SentimentScore {
				return s[i].SentimentScore > s[j].SentimentScore
			}
			return s[i].Date.Before(s[j].Date)
		})
	}
	byScoreDesc(positives)
	byScoreDesc(negatives)

	var out []Highlight
	for i := 0; len(out) < max && (i < len(positives) || i < len(negatives)); i++ {
		if i < len(positives) {
			out = append(out, newHighlight(positives[i]))
		}
		if len(out) < max && i < len(negatives) {
			out = append(out, newHighlight(negatives[i]))
		}
	}
	return out
}

func newHighlight(e DayEntry) Highlight {
	return Highlight{
		Date:      e.Date,
		Sentiment: e.OverallSentiment,
		Score:     e.SentimentScore,
		Excerpt:   excerpt(e),
	}
}

// excerpt takes the first user turn of the day, bounded to a readable length.
func excerpt(e DayEntry) string {
	for _, t := range e.Conversation {
		if t.Role != RoleUser || t.Text == "" {
			continue
		}
		return truncateRunes(t.Text, highlightExcerptRunes)
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
