// Package store persists day entries in SQLite, one database file per user.
// A Store wraps a single connection with WAL pragmas and embedded migrations;
// the Manager hands out lazily-opened per-user stores under a data directory.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bdobrica/luna/internal/luna/journal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound reports that no entry exists for the requested date.
	ErrNotFound = errors.New("store: entry not found")

	// ErrInvalidDateRange reports a range query whose start is after its end.
	ErrInvalidDateRange = errors.New("store: start date after end date")

	// ErrWriteConflict reports a write that lost a lock race. Callers may
	// retry; the entry was not modified.
	ErrWriteConflict = errors.New("store: write conflict")

	// ErrMalformedRecord reports a persisted row whose JSON columns no longer
	// decode. Range queries skip such rows; point reads surface the error.
	ErrMalformedRecord = errors.New("store: malformed persisted record")
)

// Store wraps one user's database connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// afterCommit, when set, runs after every successful write. It is the
	// hook the cloud-sync layer attaches to.
	afterCommit func()
}

// Open opens (creating if needed) the database at path and runs migrations.
// If logger is nil, the default slog logger is used.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent callers are serialized by database/sql instead of fighting
	// for write locks across multiple underlying connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and speed
		"PRAGMA busy_timeout = 5000",  // Wait up to 5s for locks
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set pragma: %w", err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetAfterCommit installs a hook that runs after every successful write.
func (s *Store) SetAfterCommit(fn func()) {
	s.afterCommit = fn
}

func (s *Store) committed() {
	if s.afterCommit != nil {
		s.afterCommit()
	}
}

// runMigrations applies pending migrations from the embedded filesystem.
// Filenames are NNNN_description.sql; versions already recorded in
// schema_migrations are skipped.
func (s *Store) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}

		s.logger.Info("applied migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}
	return nil
}

const entryColumns = `entry_date, conversation, overall_sentiment, sentiment_score,
	themes, classified_turns, sentiment_balance, mood_color, created_at, updated_at`

// Get returns the entry for the date, or ErrNotFound.
func (s *Store) Get(ctx context.Context, date journal.Date) (*journal.DayEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE entry_date = ?`,
		date.String(),
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", date, err)
	}
	return entry, nil
}

// Upsert writes the entry, replacing any existing row for its date. CreatedAt
// is preserved on update; UpdatedAt always reflects this write.
func (s *Store) Upsert(ctx context.Context, entry *journal.DayEntry) error {
	conversation, err := json.Marshal(entry.Conversation)
	if err != nil {
		return fmt.Errorf("store: marshal conversation: %w", err)
	}
	themes, err := json.Marshal(entry.Themes)
	if err != nil {
		return fmt.Errorf("store: marshal themes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries
			(`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_date) DO UPDATE SET
			conversation = excluded.conversation,
			overall_sentiment = excluded.overall_sentiment,
			sentiment_score = excluded.sentiment_score,
			themes = excluded.themes,
			classified_turns = excluded.classified_turns,
			sentiment_balance = excluded.sentiment_balance,
			mood_color = excluded.mood_color,
			updated_at = excluded.updated_at`,
		entry.Date.String(),
		string(conversation),
		string(entry.OverallSentiment),
		entry.SentimentScore,
		string(themes),
		entry.ClassifiedTurns,
		entry.SentimentBalance,
		string(entry.MoodColor),
		entry.CreatedAt.UTC().Format(time.RFC3339),
		entry.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isLockContention(err) {
			return fmt.Errorf("store: upsert %s: %w", entry.Date, ErrWriteConflict)
		}
		return fmt.Errorf("store: upsert %s: %w", entry.Date, err)
	}
	s.committed()
	return nil
}

// QueryRange returns the entries with start <= date <= end in ascending date
// order. Rows whose JSON columns no longer decode are logged and skipped so
// one corrupt day cannot break a whole digest.
func (s *Store) QueryRange(ctx context.Context, start, end journal.Date) ([]journal.DayEntry, error) {
	if start.After(end) {
		return nil, fmt.Errorf("store: range %s..%s: %w", start, end, ErrInvalidDateRange)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE entry_date >= ? AND entry_date <= ?
		 ORDER BY entry_date ASC`,
		start.String(), end.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query range: %w", err)
	}
	defer rows.Close()

	var entries []journal.DayEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			if errors.Is(err, ErrMalformedRecord) {
				s.logger.Warn("skipping malformed entry row", "error", err)
				continue
			}
			return nil, fmt.Errorf("store: scan range row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate range rows: %w", err)
	}
	return entries, nil
}

// All returns every entry in ascending date order. Malformed rows are logged
// and skipped, as in QueryRange.
func (s *Store) All(ctx context.Context) ([]journal.DayEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY entry_date ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query all: %w", err)
	}
	defer rows.Close()
	return s.collect(rows)
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]journal.DayEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY entry_date DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()
	return s.collect(rows)
}

// Search returns entries whose date or conversation text contains the term,
// newest first.
func (s *Store) Search(ctx context.Context, term string) ([]journal.DayEntry, error) {
	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE entry_date LIKE ? OR conversation LIKE ?
		 ORDER BY entry_date DESC`,
		pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()
	return s.collect(rows)
}

// SetMoodColor records the user's mood pick for the date, creating a
// conversation-free entry when none exists yet.
func (s *Store) SetMoodColor(ctx context.Context, date journal.Date, color journal.MoodColor, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (entry_date, mood_color, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_date) DO UPDATE SET
			mood_color = excluded.mood_color,
			updated_at = excluded.updated_at`,
		date.String(), string(color), ts, ts,
	)
	if err != nil {
		if isLockContention(err) {
			return fmt.Errorf("store: set mood %s: %w", date, ErrWriteConflict)
		}
		return fmt.Errorf("store: set mood %s: %w", date, err)
	}
	s.committed()
	return nil
}

// Delete removes the entry for the date. Returns ErrNotFound when no entry
// exists.
func (s *Store) Delete(ctx context.Context, date journal.Date) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE entry_date = ?`, date.String())
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", date, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %s: rows affected: %w", date, err)
	}
	if n == 0 {
		return fmt.Errorf("store: delete %s: %w", date, ErrNotFound)
	}
	s.committed()
	return nil
}

func (s *Store) collect(rows *sql.Rows) ([]journal.DayEntry, error) {
	var entries []journal.DayEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			if errors.Is(err, ErrMalformedRecord) {
				s.logger.Warn("skipping malformed entry row", "error", err)
				continue
			}
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate rows: %w", err)
	}
	return entries, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*journal.DayEntry, error) {
	var (
		dateStr, conversation, sentiment, themes string
		moodColor, createdAt, updatedAt          string
		entry                                    journal.DayEntry
	)
	if err := row.Scan(
		&dateStr, &conversation, &sentiment, &entry.SentimentScore,
		&themes, &entry.ClassifiedTurns, &entry.SentimentBalance,
		&moodColor, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	date, err := journal.ParseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: entry_date %q: %v", ErrMalformedRecord, dateStr, err)
	}
	entry.Date = date
	entry.OverallSentiment = journal.Sentiment(sentiment)
	entry.MoodColor = journal.MoodColor(moodColor)

	if err := json.Unmarshal([]byte(conversation), &entry.Conversation); err != nil {
		return nil, fmt.Errorf("%w: conversation for %s: %v", ErrMalformedRecord, dateStr, err)
	}
	if err := json.Unmarshal([]byte(themes), &entry.Themes); err != nil {
		return nil, fmt.Errorf("%w: themes for %s: %v", ErrMalformedRecord, dateStr, err)
	}

	if entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("%w: created_at for %s: %v", ErrMalformedRecord, dateStr, err)
	}
	if entry.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("%w: updated_at for %s: %v", ErrMalformedRecord, dateStr, err)
	}
	return &entry, nil
}

// isLockContention reports whether the driver error is SQLite lock
// contention. modernc.org/sqlite surfaces these as string errors.
func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
