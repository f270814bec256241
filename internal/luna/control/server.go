// Package control implements the HTTP control surface of the journaling
// engine.
//
// Clients (the UI process, automation, curl) talk to the engine over this
// interface; the engine itself stays UI-agnostic. The caller's identity rides
// in the X-Luna-User header (default "local"); each user maps to an isolated
// database file.
//
// Endpoints:
//
//	GET    /health               → HealthResponse
//	GET    /metrics              → Prometheus exposition
//	POST   /v1/turns             → TurnRequest → app.TurnResult
//	POST   /v1/transcripts       → multipart audio → TranscriptResponse
//	GET    /v1/entries           → recent entries (?limit=, ?q= for search)
//	GET    /v1/entries/{date}    → one day's entry
//	DELETE /v1/entries/{date}    → 204 No Content
//	GET    /v1/digest            → digest over ?start=..&end=.. (default last 7 days)
//	GET    /v1/wrap              → weekly wrap ending ?end= (default today)
//	GET    /v1/stats             → stats.Summary
//	POST   /v1/mood              → MoodRequest → 200 OK
//	GET    /v1/mood              → MoodResponse for ?date= (default today)
//
// Security: set Config.Token to require "Authorization: Bearer <token>" on
// every request. When Token is empty authentication is disabled (dev mode).
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/luna/common/trace"
	"github.com/bdobrica/luna/common/version"
	"github.com/bdobrica/luna/internal/luna/app"
	"github.com/bdobrica/luna/internal/luna/journal"
	"github.com/bdobrica/luna/internal/luna/observability"
	"github.com/bdobrica/luna/internal/luna/store"
)

const (
	// defaultUser is assumed when no X-Luna-User header is present, matching
	// single-user local deployments.
	defaultUser = "local"

	// maxAudioBytes caps an uploaded voice note.
	maxAudioBytes = 25 * 1024 * 1024 // 25 MiB

	defaultHistoryLimit = 30
	maxHistoryLimit     = 365
)

// Config carries the server's collaborators.
type Config struct {
	// App is the journaling engine. Required.
	App *app.App

	// Token, when non-empty, is the expected bearer token for all requests.
	// When empty, authentication is disabled (useful in local dev/test).
	Token string

	// MetricsHandler serves GET /metrics. When nil the endpoint returns 404.
	MetricsHandler http.Handler

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Server is the control HTTP server.
type Server struct {
	addr   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	server *http.Server
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// TurnRequest is the body for POST /v1/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// TranscriptResponse is returned by POST /v1/transcripts.
type TranscriptResponse struct {
	Text   string          `json:"text"`
	Result *app.TurnResult `json:"result"`
}

// MoodRequest is the body for POST /v1/mood.
type MoodRequest struct {
	Date  string `json:"date,omitempty"` // ISO date; empty means today
	Color string `json:"color"`
}

// MoodResponse is returned by GET /v1/mood.
type MoodResponse struct {
	Date  string `json:"date"`
	Color string `json:"color"`
	Hex   string `json:"hex"`
}

// New creates a Server listening on addr.
func New(addr string, cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("control: app is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		addr:   addr,
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("POST /v1/transcripts", s.handleTranscript)
	mux.HandleFunc("GET /v1/entries", s.handleEntries)
	mux.HandleFunc("GET /v1/entries/{date}", s.handleEntry)
	mux.HandleFunc("DELETE /v1/entries/{date}", s.handleDeleteEntry)
	mux.HandleFunc("GET /v1/digest", s.handleDigest)
	mux.HandleFunc("GET /v1/wrap", s.handleWrap)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/mood", s.handleSetMood)
	mux.HandleFunc("GET /v1/mood", s.handleGetMood)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.traceMiddleware(s.authMiddleware(mux)),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s, nil
}

// traceMiddleware assigns each request a trace ID (honouring one supplied by
// the caller) so handler logs can be correlated. The ID is echoed back in the
// X-Luna-Trace response header.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := trace.Ensure(r.Context(), r.Header.Get("X-Luna-Trace"))
		w.Header().Set("X-Luna-Trace", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware rejects requests that do not carry the correct bearer token.
// When Config.Token is empty, all requests are allowed (dev/test mode).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if auth[len("Bearer "):] != s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening. It returns once the listener is bound so callers
// can immediately start sending requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.addr, err)
	}
	s.logger.Info("control server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version.Version})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MetricsHandler == nil {
		writeError(w, http.StatusNotFound, "metrics not configured")
		return
	}
	s.cfg.MetricsHandler.ServeHTTP(w, r)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.cfg.App.RecordTurn(r.Context(), s.user(r), req.Text)
	if err != nil {
		s.writeAppError(w, r, "record turn", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	result, text, err := s.cfg.App.RecordVoiceTurn(r.Context(), s.user(r), file, header.Filename)
	if err != nil {
		s.writeAppError(w, r, "record voice turn", err)
		return
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{Text: text, Result: result})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if term := r.URL.Query().Get("q"); term != "" {
		entries, err := s.cfg.App.SearchEntries(r.Context(), s.user(r), term)
		if err != nil {
			s.writeAppError(w, r, "search entries", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be 1..%d", maxHistoryLimit))
			return
		}
		limit = n
	}

	entries, err := s.cfg.App.History(r.Context(), s.user(r), limit)
	if err != nil {
		s.writeAppError(w, r, "list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	date, ok := s.pathDate(w, r)
	if !ok {
		return
	}
	entry, err := s.cfg.App.Entry(r.Context(), s.user(r), date)
	if err != nil {
		s.writeAppError(w, r, "get entry", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	date, ok := s.pathDate(w, r)
	if !ok {
		return
	}
	if err := s.cfg.App.DeleteEntry(r.Context(), s.user(r), date); err != nil {
		s.writeAppError(w, r, "delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	today := journal.DateOf(s.now())
	end := today
	start := today.AddDays(-6)

	var ok bool
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, ok = s.queryDate(w, "end", raw); !ok {
			return
		}
		start = end.AddDays(-6)
	}
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, ok = s.queryDate(w, "start", raw); !ok {
			return
		}
	}

	digest, err := s.cfg.App.Digest(r.Context(), s.user(r), start, end)
	if err != nil {
		s.writeAppError(w, r, "build digest", err)
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

func (s *Server) handleWrap(w http.ResponseWriter, r *http.Request) {
	end := journal.DateOf(s.now())
	var ok bool
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, ok = s.queryDate(w, "end", raw); !ok {
			return
		}
	}

	result, err := s.cfg.App.WeeklyWrap(r.Context(), s.user(r), end)
	if err != nil {
		s.writeAppError(w, r, "weekly wrap", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.cfg.App.Stats(r.Context(), s.user(r))
	if err != nil {
		s.writeAppError(w, r, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSetMood(w http.ResponseWriter, r *http.Request) {
	var req MoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	date := journal.DateOf(s.now())
	if req.Date != "" {
		var ok bool
		if date, ok = s.queryDate(w, "date", req.Date); !ok {
			return
		}
	}

	if err := s.cfg.App.SetMood(r.Context(), s.user(r), date, journal.MoodColor(req.Color)); err != nil {
		s.writeAppError(w, r, "set mood", err)
		return
	}
	writeJSON(w, http.StatusOK, MoodResponse{
		Date:  date.String(),
		Color: req.Color,
		Hex:   journal.MoodColorHex[journal.MoodColor(req.Color)],
	})
}

func (s *Server) handleGetMood(w http.ResponseWriter, r *http.Request) {
	date := journal.DateOf(s.now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		var ok bool
		if date, ok = s.queryDate(w, "date", raw); !ok {
			return
		}
	}

	color, hex, err := s.cfg.App.Mood(r.Context(), s.user(r), date)
	if err != nil {
		s.writeAppError(w, r, "get mood", err)
		return
	}
	writeJSON(w, http.StatusOK, MoodResponse{Date: date.String(), Color: string(color), Hex: hex})
}

// --- helpers ---

// user extracts the caller identity from the X-Luna-User header.
func (s *Server) user(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get("X-Luna-User")); user != "" {
		return user
	}
	return defaultUser
}

// pathDate parses the {date} path segment, writing a 400 on failure.
func (s *Server) pathDate(w http.ResponseWriter, r *http.Request) (journal.Date, bool) {
	raw := r.PathValue("date")
	date, err := journal.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q (want YYYY-MM-DD)", raw))
		return journal.Date{}, false
	}
	return date, true
}

// queryDate parses one date parameter, writing a 400 on failure.
func (s *Server) queryDate(w http.ResponseWriter, name, raw string) (journal.Date, bool) {
	date, err := journal.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s date %q (want YYYY-MM-DD)", name, raw))
		return journal.Date{}, false
	}
	return date, true
}

// writeAppError maps engine errors onto HTTP status codes.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, store.ErrInvalidDateRange), errors.Is(err, app.ErrInvalidMoodColor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrWriteConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		// The detail stays in the traced log; clients get a generic body.
		observability.WithTrace(r.Context()).Error("control: "+action+" failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// TestHandler exposes the server's HTTP handler for use in httptest.NewServer.
// This is only intended for tests.
func (s *Server) TestHandler() http.Handler {
	return s.server.Handler
}
