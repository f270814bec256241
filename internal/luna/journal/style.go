package journal

import "strings"

// Style tags the kind of journaling a message represents. The tag steers the
// conversational adapter's follow-up question; it is detected with cheap
// phrase heuristics so it stays testable without an LLM call.
type Style string

const (
	StyleFactual    Style = "factual"    // events described without feelings
	StyleReflection Style = "reflection" // negative or complex emotions
	StyleGratitude  Style = "gratitude"  // thankfulness expressed
	StyleLearning   Style = "learning"   // insights and realisations
	StyleFutureSelf Style = "future"     // aspirations and hopes
	StyleIntention  Style = "intention"  // commitments for tomorrow
)

var (
	intentionMarkers = []string{"i will", "tomorrow i want to", "my goal is", "i plan to", "i'm going to", "i am going to"}
	learningMarkers  = []string{"i learned", "i learnt", "i realized", "i realised", "i discovered", "i understood"}
	gratitudeMarkers = []string{"i'm thankful", "i am thankful", "i'm grateful", "i am grateful", "thankful for", "grateful for", "i appreciate"}
	futureMarkers    = []string{"i want", "i hope", "in the future", "one day", "someday"}
	emotionMarkers   = []string{"stressed", "sad", "overwhelmed", "angry", "anxious", "frustrated", "worried", "upset", "lonely", "scared", "exhausted", "drained"}
)

// DetectStyle classifies a journal message into one of the six styles.
// More specific signals win over broader ones: an explicit commitment
// ("I will...") outranks a general aspiration ("I want..."), which is why
// intention is checked before future-self. Messages with no recognised
// signal default to a factual account.
func DetectStyle(text string) Style {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, intentionMarkers):
		return StyleIntention
	case containsAny(lower, learningMarkers):
		return StyleLearning
	case containsAny(lower, gratitudeMarkers):
		return StyleGratitude
	case containsAny(lower, futureMarkers):
		return StyleFutureSelf
	case containsAny(lower, emotionMarkers):
		return StyleReflection
	default:
		return StyleFactual
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
