package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager hands out one Store per user, lazily opening database files under a
// data directory. It replaces a single shared database with per-user
// isolation: no query ever needs a user column, and deleting a user's data is
// deleting one file.
type Manager struct {
	dir    string
	logger *slog.Logger

	// afterCommit, when set, runs after every successful write on any user's
	// store and receives the user ID. The cloud-sync layer hooks in here.
	afterCommit func(user string)

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a manager rooted at dir, creating the directory if
// needed. If logger is nil, the default slog logger is used.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: logger,
		stores: make(map[string]*Store),
	}, nil
}

// SetAfterCommit installs a hook invoked after every successful write on any
// user's store. Must be called before the first ForUser.
func (m *Manager) SetAfterCommit(fn func(user string)) {
	m.afterCommit = fn
}

// ForUser returns the user's store, opening it on first use.
func (m *Manager) ForUser(user string) (*Store, error) {
	name, err := sanitizeUser(user)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[name]; ok {
		return s, nil
	}

	path := filepath.Join(m.dir, name+".db")
	s, err := Open(path, m.logger.With("user", name))
	if err != nil {
		return nil, fmt.Errorf("store: open for user %s: %w", name, err)
	}
	if m.afterCommit != nil {
		u := name
		s.SetAfterCommit(func() { m.afterCommit(u) })
	}
	m.stores[name] = s
	m.logger.Info("opened user store", "user", name, "path", path)
	return s, nil
}

// Close closes every open store. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for user, s := range m.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store: close for user %s: %w", user, err)
		}
		delete(m.stores, user)
	}
	return firstErr
}

// sanitizeUser restricts user IDs to a filesystem-safe alphabet so an ID can
// never escape the data directory.
func sanitizeUser(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", fmt.Errorf("store: empty user ID")
	}
	for _, r := range user {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
			if strings.HasPrefix(user, ".") {
				return "", fmt.Errorf("store: user ID %q may not start with a dot", user)
			}
		default:
			return "", fmt.Errorf("store: user ID %q contains invalid character %q", user, r)
		}
	}
	return user, nil
}
