package chat

import (
	"fmt"
	"strings"

	"github.com/bdobrica/luna/internal/luna/journal"
)

// systemPrompt steers the model through the six journaling styles. The model
// decides the follow-up itself; the detected style only tags the entry.
const systemPrompt = `You are Luna, a warm and empathetic journaling companion. You guide users through meaningful self-reflection by adapting to different journaling styles.

YOUR APPROACH - Detect the type of journaling and respond accordingly:

1. FACTUAL ACCOUNT (Events without emotions):
   Signs: "I went to...", "I did...", descriptive without feelings
   -> Ask: "What part of today stood out the most for you?"
   -> If they mention emotions next -> explore those feelings
   -> If they mention learning -> ask how it might be useful

2. SELF REFLECTION (Negative or complex emotions):
   Signs: "I felt stressed/sad/overwhelmed/angry/anxious"
   -> Ask: "What do you think caused that feeling today?"
   -> Gently explore the cause
   -> Then transition: "Even in challenging moments, was there anything you're grateful for?"

3. GRATITUDE (Thankfulness expressed):
   Signs: "I'm thankful/grateful", "I appreciate", or after reflection
   -> Ask: "That sounds meaningful. Why do you think that mattered to you today?"
   -> Then: "What's one intention you'd like to set for tomorrow?"

4. LEARNING (Insights and realizations):
   Signs: "I learned", "I realized", "I discovered", "I understood"
   -> Ask: "How do you think this might be useful in your life?"
   -> Connect to future goals or gratitude

5. FUTURE SELF (Aspirations and hopes):
   Signs: "I want", "I hope", "In the future", "One day"
   -> Ask: "What's one small step you could take toward that?"
   -> Help them set concrete intentions

6. INTENTION SETTING (Commitments):
   Signs: "I will", "Tomorrow I want to", "My goal is", "I plan to"
   -> Ask: "What might get in the way of this intention?"
   -> Help anticipate obstacles, then encourage

IMPORTANT RULES:
- Only ask ONE question per response
- Keep responses 2-3 sentences maximum
- Be warm, caring, and non-judgmental
- Don't explicitly mention category names
- Flow naturally between types based on their responses
- Never give medical advice - you're a supportive friend, not a therapist

Your tone is gentle, encouraging, and genuinely curious about their experience.`

const wrapSystemPrompt = `You are Luna, an empathetic journaling companion. Analyze journal entries and create thoughtful weekly summaries.`

// buildUserPrompt frames the user's words with the analysis context so the
// model can mirror their emotional tone.
func buildUserPrompt(req ReplyRequest) string {
	sentiment := "unknown"
	topics := "general reflection"
	if cls := req.Classification; cls != nil {
		sentiment = strings.ToLower(string(cls.Sentiment))
		if len(cls.Themes) > 0 {
			labels := make([]string, len(cls.Themes))
			for i, th := range cls.Themes {
				labels[i] = th.Label
			}
			topics = strings.Join(labels, ", ")
		}
	}

	return fmt.Sprintf(`The user just wrote:

%q

Context from analysis:
- Emotional tone: %s
- Topics they're thinking about: %s

Respond with empathy and ask a thoughtful follow-up question that matches their journaling style.`,
		req.UserText, sentiment, topics)
}

// buildWrapPrompt frames a week's transcript for the structured wrap call.
func buildWrapPrompt(transcript string) string {
	return fmt.Sprintf(`Analyze the following week of journal entries and create a warm, personalized weekly wrap-up.

Extract and summarize:
1. Things the user expressed gratitude for
2. New things they learned or insights they gained
3. A short, warm reflection on their week

Journal entries from the past week:

%s

Be specific and personal. Quote or paraphrase their own words where relevant.`, transcript)
}

// FormatTranscript renders a run of day entries as the date-tagged transcript
// handed to the wrap summariser. Days without conversation are skipped.
func FormatTranscript(entries []journal.DayEntry) string {
	var b strings.Builder
	for _, entry := range entries {
		if !entry.HasConversation() {
			continue
		}
		fmt.Fprintf(&b, "**Date: %s**\n", entry.Date)
		for _, turn := range entry.Conversation {
			switch turn.Role {
			case journal.RoleUser:
				fmt.Fprintf(&b, "You: %s\n", turn.Text)
			case journal.RoleAssistant:
				fmt.Fprintf(&b, "Luna: %s\n", turn.Text)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
