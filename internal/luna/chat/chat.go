// Package chat wraps the external chat-completion model behind small
// capability interfaces: a Responder for the empathetic per-turn reply, a
// WrapSummariser for the weekly wrap, and a Transcriber for voice input.
// All implementations are stateless; a failed call degrades the turn, it
// never loses the user's words.
package chat

import (
	"context"
	"io"

	"github.com/bdobrica/luna/internal/luna/journal"
)

// FallbackReply is recorded as the assistant turn when the chat model is
// unreachable, so the user's own words are saved regardless.
const FallbackReply = "I'm having trouble connecting right now, but your words are safe in today's entry. Let's pick this up in a moment."

// ReplyRequest carries everything the responder needs for one turn.
type ReplyRequest struct {
	// UserText is the message the user just wrote.
	UserText string

	// History is today's prior conversation, oldest first.
	History []journal.Turn

	// Style is the detected journaling style steering the follow-up question.
	Style journal.Style

	// Classification is the turn's analysis, nil when the classifier was
	// unavailable. It only enriches the prompt context.
	Classification *journal.Classification
}

// Responder produces the assistant reply for one user turn.
type Responder interface {
	Reply(ctx context.Context, req ReplyRequest) (string, error)
}

// WrapRequest is the input to the weekly wrap summariser.
type WrapRequest struct {
	Digest     journal.Digest
	Transcript string // formatted week transcript, date-tagged
}

// WeeklyWrap is the structured weekly summary produced by the model.
type WeeklyWrap struct {
	Gratitude  []string `json:"gratitude" jsonschema_description:"Things the user expressed gratitude for, with brief context"`
	Learnings  []string `json:"learnings" jsonschema_description:"New insights, learnings or realisations from the week"`
	Reflection string   `json:"reflection" jsonschema_description:"A short, warm reflection on the week, two to three sentences"`
}

// WrapSummariser turns a week of entries into a WeeklyWrap.
type WrapSummariser interface {
	Summarise(ctx context.Context, req WrapRequest) (*WeeklyWrap, error)
}

// Transcriber converts recorded audio into finalized text, upstream of turn
// creation.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}
