// Package app wires the journaling pipeline together: adapters in front,
// per-date locking around the read-merge-write cycle, and the store behind.
// All external calls (classifier, chat model, transcription) happen outside
// any lock so a slow upstream never serializes unrelated dates.
package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/luna/common/retry"
	"github.com/bdobrica/luna/internal/luna/chat"
	"github.com/bdobrica/luna/internal/luna/classify"
	"github.com/bdobrica/luna/internal/luna/journal"
	"github.com/bdobrica/luna/internal/luna/metrics"
	"github.com/bdobrica/luna/internal/luna/stats"
	"github.com/bdobrica/luna/internal/luna/store"
)

// lockStripes bounds the per-date mutex table. Two dates (or users) may share
// a stripe; that only costs a little extra serialization, never correctness.
const lockStripes = 64

// ErrInvalidMoodColor reports an unknown mood colour name.
var ErrInvalidMoodColor = errors.New("app: invalid mood color")

// Config carries the app's collaborators. Stores and Classifier are
// required; nil chat adapters degrade the corresponding feature instead of
// failing setup.
type Config struct {
	Stores      *store.Manager
	Classifier  classify.Classifier
	Responder   chat.Responder
	Wrapper     chat.WrapSummariser
	Transcriber chat.Transcriber
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// Retry controls the backoff for external adapter calls.
	Retry retry.Config

	// Now overrides the clock in tests.
	Now func() time.Time
}

// App orchestrates the journaling engine for all users.
type App struct {
	stores      *store.Manager
	classifier  classify.Classifier
	responder   chat.Responder
	wrapper     chat.WrapSummariser
	transcriber chat.Transcriber
	metrics     *metrics.Metrics
	logger      *slog.Logger
	retryCfg    retry.Config
	now         func() time.Time

	locks [lockStripes]sync.Mutex
}

// New creates the app. Missing optional collaborators get safe defaults.
func New(cfg Config) (*App, error) {
	if cfg.Stores == nil {
		return nil, fmt.Errorf("app: store manager is required")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	return &App{
		stores:      cfg.Stores,
		classifier:  cfg.Classifier,
		responder:   cfg.Responder,
		wrapper:     cfg.Wrapper,
		transcriber: cfg.Transcriber,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		retryCfg:    cfg.Retry,
		now:         cfg.Now,
	}, nil
}

// TurnResult is the outcome of recording one journal turn.
type TurnResult struct {
	Entry journal.DayEntry `json:"entry"`
	Reply string           `json:"reply"`
	Style journal.Style    `json:"style"`

	// Degraded is true when the classifier was unavailable and the turn was
	// recorded without analysis.
	Degraded bool `json:"degraded"`
}

// RecordTurn processes one user message: detect style, classify, generate the
// reply, then merge the exchange into today's entry under the date lock.
// Classifier and responder failures degrade the turn; only a store failure is
// returned as an error.
func (a *App) RecordTurn(ctx context.Context, user, text string) (*TurnResult, error) {
	started := a.now()
	st, err := a.stores.ForUser(user)
	if err != nil {
		return nil, err
	}

	date := journal.DateOf(started)
	style := journal.DetectStyle(text)

	// Unlocked read for prompt history. The merge below re-reads under the
	// lock, so a concurrent writer costs at most a stale prompt.
	var history []journal.Turn
	if existing, err := st.Get(ctx, date); err == nil {
		history = existing.Conversation
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cls := a.classifyTurn(ctx, text)
	reply := a.generateReply(ctx, chat.ReplyRequest{
		UserText:       text,
		History:        history,
		Style:          style,
		Classification: cls,
	})

	entry, err := a.mergeAndSave(ctx, st, date, text, reply, cls)
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.ObserveTurn(a.now().Sub(started))
	}
	a.logger.Info("recorded turn",
		"user", user, "date", date, "style", style,
		"degraded", cls == nil, "turns", len(entry.Conversation))

	return &TurnResult{
		Entry:    *entry,
		Reply:    reply,
		Style:    style,
		Degraded: cls == nil,
	}, nil
}

// RecordVoiceTurn transcribes the audio and records the resulting text as a
// regular turn.
func (a *App) RecordVoiceTurn(ctx context.Context, user string, audio io.Reader, filename string) (*TurnResult, string, error) {
	if a.transcriber == nil {
		return nil, "", fmt.Errorf("app: transcription is not configured")
	}

	var text string
	err := retry.Do(ctx, a.adapterRetry("transcriber"), func() error {
		var terr error
		text, terr = a.transcriber.Transcribe(ctx, audio, filename)
		return terr
	})
	if err != nil {
		a.adapterFailed("transcriber")
		return nil, "", fmt.Errorf("app: transcribe: %w", err)
	}
	if text == "" {
		return nil, "", fmt.Errorf("app: transcription produced no text")
	}

	result, err := a.RecordTurn(ctx, user, text)
	return result, text, err
}

// classifyTurn runs the classifier with retries. Failure returns nil: the
// turn is recorded without analysis.
func (a *App) classifyTurn(ctx context.Context, text string) *journal.Classification {
	var cls *journal.Classification
	err := retry.Do(ctx, a.adapterRetry("classifier"), func() error {
		var cerr error
		cls, cerr = a.classifier.Classify(ctx, text)
		return cerr
	})
	if err != nil {
		a.adapterFailed("classifier")
		a.logger.Warn("classifier unavailable, recording turn without analysis", "error", err)
		return nil
	}
	return cls
}

// generateReply runs the responder with retries. Failure substitutes the
// fallback apology so the user's words are still saved.
func (a *App) generateReply(ctx context.Context, req chat.ReplyRequest) string {
	if a.responder == nil {
		return chat.FallbackReply
	}
	var reply string
	err := retry.Do(ctx, a.adapterRetry("responder"), func() error {
		var rerr error
		reply, rerr = a.responder.Reply(ctx, req)
		return rerr
	})
	if err != nil {
		a.adapterFailed("responder")
		a.logger.Warn("responder unavailable, using fallback reply", "error", err)
		return chat.FallbackReply
	}
	return reply
}

// mergeAndSave performs the locked read-merge-write cycle for one date.
func (a *App) mergeAndSave(ctx context.Context, st *store.Store, date journal.Date, userText, reply string, cls *journal.Classification) (*journal.DayEntry, error) {
	lock := a.lockFor(st, date)
	lock.Lock()
	defer lock.Unlock()

	existing, err := st.Get(ctx, date)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.recordStoreOp("get", err)
		return nil, err
	}

	merged := journal.MergeTurn(existing, date, userText, reply, cls, a.now(), journal.MergeOptions{})

	err = st.Upsert(ctx, &merged)
	a.recordStoreOp("upsert", err)
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

// Entry returns one day's entry.
func (a *App) Entry(ctx context.Context, user string, date journal.Date) (*journal.DayEntry, error) {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, date)
}

// History returns up to limit entries, newest first.
func (a *App) History(ctx context.Context, user string, limit int) ([]journal.DayEntry, error) {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return nil, err
	}
	return st.Recent(ctx, limit)
}

// SearchEntries returns entries matching the term by date or text.
func (a *App) SearchEntries(ctx context.Context, user, term string) ([]journal.DayEntry, error) {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return nil, err
	}
	return st.Search(ctx, term)
}

// DeleteEntry removes one day's entry.
func (a *App) DeleteEntry(ctx context.Context, user string, date journal.Date) error {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return err
	}
	err = st.Delete(ctx, date)
	a.recordStoreOp("delete", err)
	return err
}

// SetMood records the user's mood colour for the date.
func (a *App) SetMood(ctx context.Context, user string, date journal.Date, color journal.MoodColor) error {
	if !journal.ValidMoodColor(color) {
		return fmt.Errorf("%w: %q", ErrInvalidMoodColor, color)
	}
	st, err := a.stores.ForUser(user)
	if err != nil {
		return err
	}
	err = st.SetMoodColor(ctx, date, color, a.now())
	a.recordStoreOp("set_mood", err)
	return err
}

// Mood returns the mood colour and its display hex for the date. An entry
// without a mood pick yields empty values, not an error.
func (a *App) Mood(ctx context.Context, user string, date journal.Date) (journal.MoodColor, string, error) {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return "", "", err
	}
	entry, err := st.Get(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return entry.MoodColor, journal.MoodColorHex[entry.MoodColor], nil
}

// Digest builds the deterministic digest over [start, end].
func (a *App) Digest(ctx context.Context, user string, start, end journal.Date) (*journal.Digest, error) {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return nil, err
	}
	entries, err := st.QueryRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	digest := journal.BuildDigest(entries, journal.DigestOptions{})
	if a.metrics != nil {
		a.metrics.DigestBuildsTotal.Inc()
	}
	return &digest, nil
}

// WrapResult is the outcome of a weekly wrap request.
type WrapResult struct {
	Start  journal.Date     `json:"start"`
	End    journal.Date     `json:"end"`
	Days   int              `json:"days"`
	Digest journal.Digest   `json:"digest"`
	Wrap   *chat.WeeklyWrap `json:"wrap,omitempty"`

	// NotEnoughContent is true when the week holds too little conversation
	// for a model summary. The digest is still populated.
	NotEnoughContent bool `json:"not_enough_content"`
}

// WeeklyWrap summarises the seven days ending at end. A week without
// journaled conversation yields a NotEnoughContent result, not an error.
func (a *App) WeeklyWrap(ctx context.Context, user string, end journal.Date) (*WrapResult, error) {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return nil, err
	}

	start := end.AddDays(-6)
	entries, err := st.QueryRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	digest := journal.BuildDigest(entries, journal.DigestOptions{})
	result := &WrapResult{Start: start, End: end, Days: digest.Days, Digest: digest}

	if a.wrapper == nil {
		result.NotEnoughContent = true
		return result, nil
	}

	transcript := chat.FormatTranscript(entries)
	var wrap *chat.WeeklyWrap
	err = retry.Do(ctx, a.adapterRetry("wrapper"), func() error {
		var werr error
		wrap, werr = a.wrapper.Summarise(ctx, chat.WrapRequest{Digest: digest, Transcript: transcript})
		if errors.Is(werr, chat.ErrNotEnoughContent) {
			wrap = nil
			return nil
		}
		return werr
	})
	if err != nil {
		a.adapterFailed("wrapper")
		if a.metrics != nil {
			a.metrics.WrapsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("app: weekly wrap: %w", err)
	}

	if wrap == nil {
		result.NotEnoughContent = true
		if a.metrics != nil {
			a.metrics.WrapsTotal.WithLabelValues("not_enough_content").Inc()
		}
		return result, nil
	}

	result.Wrap = wrap
	if a.metrics != nil {
		a.metrics.WrapsTotal.WithLabelValues("ok").Inc()
	}
	return result, nil
}

// Stats computes the user's journaling statistics as of today.
func (a *App) Stats(ctx context.Context, user string) (*stats.Summary, error) {
	st, err := a.stores.ForUser(user)
	if err != nil {
		return nil, err
	}

	entries, err := st.All(ctx)
	if err != nil {
		return nil, err
	}
	summary := stats.Compute(entries, journal.DateOf(a.now()))
	return &summary, nil
}

// adapterRetry derives the retry config for one adapter, wiring the retry
// counter in as the observer.
func (a *App) adapterRetry(adapter string) retry.Config {
	cfg := a.retryCfg
	if a.metrics != nil {
		cfg.OnRetry = func(attempt int, err error) {
			a.metrics.AdapterRetries.WithLabelValues(adapter).Inc()
		}
	}
	return cfg
}

func (a *App) adapterFailed(adapter string) {
	if a.metrics != nil {
		a.metrics.AdapterFailures.WithLabelValues(adapter).Inc()
	}
}

func (a *App) recordStoreOp(operation string, err error) {
	if a.metrics != nil {
		a.metrics.RecordStoreOperation(operation, err)
	}
}

// lockFor picks the mutex stripe for one store+date pair.
func (a *App) lockFor(st *store.Store, date journal.Date) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%p/%s", st, date)
	return &a.locks[h.Sum32()%lockStripes]
}
