package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/luna/common/retry"
	"github.com/bdobrica/luna/internal/luna/chat"
	"github.com/bdobrica/luna/internal/luna/journal"
	"github.com/bdobrica/luna/internal/luna/store"
)

type fakeClassifier struct {
	cls  *journal.Classification
	err  error
	seen []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (*journal.Classification, error) {
	f.seen = append(f.seen, text)
	return f.cls, f.err
}

type fakeResponder struct {
	reply string
	err   error
	last  chat.ReplyRequest
}

func (f *fakeResponder) Reply(ctx context.Context, req chat.ReplyRequest) (string, error) {
	f.last = req
	return f.reply, f.err
}

type fakeWrapper struct {
	wrap *chat.WeeklyWrap
	err  error
}

func (f *fakeWrapper) Summarise(ctx context.Context, req chat.WrapRequest) (*chat.WeeklyWrap, error) {
	return f.wrap, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	return f.text, f.err
}

var testTime = time.Date(2026, 3, 2, 20, 30, 0, 0, time.UTC)

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.Stores == nil {
		m, err := store.NewManager(t.TempDir(), nil)
		if err != nil {
			t.Fatalf("new manager: %v", err)
		}
		t.Cleanup(func() { m.Close() })
		cfg.Stores = m
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testTime }
	}
	// Keep adapter retries instant in tests.
	cfg.Retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestRecordTurn(t *testing.T) {
	classifier := &fakeClassifier{cls: &journal.Classification{
		Sentiment: journal.SentimentPositive,
		Score:     0.9,
		Themes:    []journal.Theme{{Label: "Work & Career", Score: 0.8}},
	}}
	responder := &fakeResponder{reply: "That sounds rewarding. What made it work?"}
	a := newTestApp(t, Config{Classifier: classifier, Responder: responder})

	result, err := a.RecordTurn(context.Background(), "local", "I finished the project today")
	if err != nil {
		t.Fatalf("record turn: %v", err)
	}

	if result.Degraded {
		t.Error("expected non-degraded turn")
	}
	if result.Reply != responder.reply {
		t.Errorf("expected responder reply, got %q", result.Reply)
	}
	if result.Style != journal.StyleFactual {
		t.Errorf("expected factual style, got %s", result.Style)
	}
	if len(result.Entry.Conversation) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(result.Entry.Conversation))
	}
	if result.Entry.OverallSentiment != journal.SentimentPositive {
		t.Errorf("expected positive day, got %s", result.Entry.OverallSentiment)
	}
	if result.Entry.Date.String() != "2026-03-02" {
		t.Errorf("expected today's date, got %s", result.Entry.Date)
	}

	// The entry is persisted, not just returned.
	saved, err := a.Entry(context.Background(), "local", result.Entry.Date)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if len(saved.Conversation) != 2 || saved.ClassifiedTurns != 1 {
		t.Errorf("persisted entry mismatch: %+v", saved)
	}
}

func TestRecordTurnClassifierFailureDegrades(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("inference API down")}
	responder := &fakeResponder{reply: "Tell me more."}
	a := newTestApp(t, Config{Classifier: classifier, Responder: responder})

	result, err := a.RecordTurn(context.Background(), "local", "rough day")
	if err != nil {
		t.Fatalf("expected degraded turn, got error: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded flag")
	}
	if len(result.Entry.Conversation) != 2 {
		t.Errorf("expected words still saved, got %d turns", len(result.Entry.Conversation))
	}
	if result.Entry.ClassifiedTurns != 0 {
		t.Errorf("expected no classified turns, got %d", result.Entry.ClassifiedTurns)
	}
	// Both attempts consumed before degrading.
	if len(classifier.seen) != 2 {
		t.Errorf("expected 2 classify attempts, got %d", len(classifier.seen))
	}
}

func TestRecordTurnResponderFailureUsesFallback(t *testing.T) {
	responder := &fakeResponder{err: errors.New("model overloaded")}
	a := newTestApp(t, Config{Responder: responder})

	result, err := a.RecordTurn(context.Background(), "local", "hello")
	if err != nil {
		t.Fatalf("record turn: %v", err)
	}
	if result.Reply != chat.FallbackReply {
		t.Errorf("expected fallback reply, got %q", result.Reply)
	}
	if result.Entry.Conversation[1].Text != chat.FallbackReply {
		t.Errorf("expected fallback recorded as assistant turn, got %q", result.Entry.Conversation[1].Text)
	}
}

func TestRecordTurnPassesHistoryToResponder(t *testing.T) {
	responder := &fakeResponder{reply: "ok"}
	a := newTestApp(t, Config{Responder: responder})
	ctx := context.Background()

	if _, err := a.RecordTurn(ctx, "local", "first message"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := a.RecordTurn(ctx, "local", "second message"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(responder.last.History) != 2 {
		t.Errorf("expected first exchange as history, got %d turns", len(responder.last.History))
	}

	entry, err := a.Entry(ctx, "local", journal.DateOf(testTime))
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if len(entry.Conversation) != 4 {
		t.Errorf("expected 4 turns after two exchanges, got %d", len(entry.Conversation))
	}
}

// steadyClassifier returns a fixed classification and keeps no state, so it
// is safe to share between goroutines.
type steadyClassifier struct {
	cls journal.Classification
}

func (s steadyClassifier) Classify(ctx context.Context, text string) (*journal.Classification, error) {
	cls := s.cls
	return &cls, nil
}

func TestRecordTurnConcurrentSameDay(t *testing.T) {
	const workers = 16

	classifier := steadyClassifier{cls: journal.Classification{
		Sentiment: journal.SentimentPositive,
		Score:     0.5,
	}}
	a := newTestApp(t, Config{Classifier: classifier})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := a.RecordTurn(ctx, "local", fmt.Sprintf("message %d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("record turn: %v", err)
	}

	// Every racing read-merge-write cycle must land: no exchange may be lost
	// to a stale read, and the running average must fold in all of them.
	entry, err := a.Entry(ctx, "local", journal.DateOf(testTime))
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if len(entry.Conversation) != 2*workers {
		t.Errorf("expected %d turns, got %d", 2*workers, len(entry.Conversation))
	}
	if entry.ClassifiedTurns != workers {
		t.Errorf("expected %d classified turns, got %d", workers, entry.ClassifiedTurns)
	}
	if math.Abs(entry.SentimentScore-0.5) > 1e-9 {
		t.Errorf("expected running average 0.5, got %v", entry.SentimentScore)
	}
	if math.Abs(entry.SentimentBalance-0.5*workers) > 1e-9 {
		t.Errorf("expected balance %v, got %v", 0.5*workers, entry.SentimentBalance)
	}
	if entry.OverallSentiment != journal.SentimentPositive {
		t.Errorf("expected positive day, got %s", entry.OverallSentiment)
	}
}

func TestRecordVoiceTurn(t *testing.T) {
	a := newTestApp(t, Config{
		Responder:   &fakeResponder{reply: "Noted."},
		Transcriber: &fakeTranscriber{text: "walked along the river"},
	})

	result, text, err := a.RecordVoiceTurn(context.Background(), "local", strings.NewReader("audio"), "note.ogg")
	if err != nil {
		t.Fatalf("record voice turn: %v", err)
	}
	if text != "walked along the river" {
		t.Errorf("unexpected transcript: %q", text)
	}
	if result.Entry.Conversation[0].Text != "walked along the river" {
		t.Errorf("expected transcript recorded as user turn, got %q", result.Entry.Conversation[0].Text)
	}
}

func TestRecordVoiceTurnTranscriberFailure(t *testing.T) {
	a := newTestApp(t, Config{Transcriber: &fakeTranscriber{err: errors.New("upload rejected")}})
	if _, _, err := a.RecordVoiceTurn(context.Background(), "local", strings.NewReader("audio"), "note.ogg"); err == nil {
		t.Error("expected error when transcription fails")
	}
}

func TestMoodRoundTrip(t *testing.T) {
	a := newTestApp(t, Config{})
	ctx := context.Background()
	date := journal.DateOf(testTime)

	if err := a.SetMood(ctx, "local", date, "ultraviolet"); !errors.Is(err, ErrInvalidMoodColor) {
		t.Errorf("expected ErrInvalidMoodColor, got %v", err)
	}

	if err := a.SetMood(ctx, "local", date, journal.MoodCalm); err != nil {
		t.Fatalf("set mood: %v", err)
	}
	color, hex, err := a.Mood(ctx, "local", date)
	if err != nil {
		t.Fatalf("mood: %v", err)
	}
	if color != journal.MoodCalm || hex != "#FFFFFF" {
		t.Errorf("expected calm #FFFFFF, got %s %s", color, hex)
	}

	// No entry at all reads as no mood, not an error.
	color, hex, err = a.Mood(ctx, "local", date.AddDays(1))
	if err != nil || color != "" || hex != "" {
		t.Errorf("expected empty mood for missing entry, got %s %s %v", color, hex, err)
	}
}

func TestWeeklyWrap(t *testing.T) {
	wrapper := &fakeWrapper{wrap: &chat.WeeklyWrap{
		Gratitude:  []string{"morning light"},
		Reflection: "A calm week.",
	}}
	a := newTestApp(t, Config{Responder: &fakeResponder{reply: "ok"}, Wrapper: wrapper})
	ctx := context.Background()

	if _, err := a.RecordTurn(ctx, "local", "grateful for the morning light"); err != nil {
		t.Fatalf("record turn: %v", err)
	}

	end := journal.DateOf(testTime)
	result, err := a.WeeklyWrap(ctx, "local", end)
	if err != nil {
		t.Fatalf("weekly wrap: %v", err)
	}
	if result.NotEnoughContent {
		t.Error("expected content for the wrap")
	}
	if result.Wrap == nil || result.Wrap.Reflection != "A calm week." {
		t.Errorf("unexpected wrap: %+v", result.Wrap)
	}
	if result.Start.String() != "2026-02-24" || result.End.String() != "2026-03-02" {
		t.Errorf("expected 7-day window, got %s..%s", result.Start, result.End)
	}
	if result.Days != 1 {
		t.Errorf("expected 1 conversation day, got %d", result.Days)
	}
}

func TestWeeklyWrapEmptyWeek(t *testing.T) {
	a := newTestApp(t, Config{Wrapper: &fakeWrapper{err: chat.ErrNotEnoughContent}})

	result, err := a.WeeklyWrap(context.Background(), "local", journal.DateOf(testTime))
	if err != nil {
		t.Fatalf("expected placeholder result, got error: %v", err)
	}
	if !result.NotEnoughContent {
		t.Error("expected NotEnoughContent for an empty week")
	}
	if result.Days != 0 {
		t.Errorf("expected 0 days, got %d", result.Days)
	}
}

func TestStats(t *testing.T) {
	a := newTestApp(t, Config{Responder: &fakeResponder{reply: "ok"}})
	ctx := context.Background()

	if _, err := a.RecordTurn(ctx, "local", "today went well"); err != nil {
		t.Fatalf("record turn: %v", err)
	}

	summary, err := a.Stats(ctx, "local")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if summary.TotalDays != 1 || summary.CurrentStreak != 1 {
		t.Errorf("expected one-day streak, got %+v", summary)
	}
	if summary.LastEntryDate.String() != "2026-03-02" {
		t.Errorf("expected last entry today, got %s", summary.LastEntryDate)
	}
}

func TestDigestInvalidRange(t *testing.T) {
	a := newTestApp(t, Config{})
	start := journal.DateOf(testTime)
	if _, err := a.Digest(context.Background(), "local", start, start.AddDays(-1)); !errors.Is(err, store.ErrInvalidDateRange) {
		t.Errorf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	a := newTestApp(t, Config{Responder: &fakeResponder{reply: "ok"}})
	ctx := context.Background()

	if _, err := a.RecordTurn(ctx, "alice", "alice's day"); err != nil {
		t.Fatalf("record turn: %v", err)
	}

	if _, err := a.Entry(ctx, "bob", journal.DateOf(testTime)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected bob's journal empty, got %v", err)
	}
}
