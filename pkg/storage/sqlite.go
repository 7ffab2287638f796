package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/castellanosj/warelay/pkg/bridge"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists sessions in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB

	observerMu sync.RWMutex
	observers  []Observer
}

// NewSQLite opens (or creates) the database at dsn and ensures the
// schema.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if filePath := sqliteFilePath(dsn); filePath != "" {
		// The artifact blob is a login credential surface; keep the
		// database private.
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite takes one writer with many readers under WAL.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteFilePath(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		return strings.SplitN(strings.TrimPrefix(dsn, "file:"), "?", 2)[0]
	}
	return dsn
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AddObserver registers an observer for session mutations.
func (s *SQLiteStore) AddObserver(observer Observer) {
	s.observerMu.Lock()
	s.observers = append(s.observers, observer)
	s.observerMu.Unlock()
}

func (s *SQLiteStore) notify(event Event) {
	s.observerMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.observerMu.RUnlock()
	for _, o := range observers {
		o.OnStorageEvent(event)
	}
}

// Save upserts a session record.
func (s *SQLiteStore) Save(ctx context.Context, session *bridge.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id required")
	}
	query := `
		INSERT INTO link_sessions (session_id, owner_id, state, artifact, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			artifact = excluded.artifact,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	err := s.execRetry(ctx, query,
		session.ID,
		session.OwnerID,
		string(session.State),
		session.Artifact,
		session.LastError,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return err
	}
	s.notify(newEvent(EventSessionSaved, session))
	return nil
}

// Load retrieves a session by id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*bridge.Session, error) {
	query := `
		SELECT session_id, owner_id, state, artifact, last_error, created_at, updated_at
		FROM link_sessions WHERE session_id = ?
	`
	var (
		session   bridge.Session
		state     string
		artifact  []byte
		lastError sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.OwnerID,
		&state,
		&artifact,
		&lastError,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridge.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session.State = bridge.State(state)
	session.Artifact = artifact
	session.LastError = lastError.String
	return &session, nil
}

// ListByOwner returns an owner's sessions, newest first.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]*bridge.Session, error) {
	query := `
		SELECT session_id, owner_id, state, artifact, last_error, created_at, updated_at
		FROM link_sessions WHERE owner_id = ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*bridge.Session
	for rows.Next() {
		var (
			session   bridge.Session
			state     string
			lastError sql.NullString
		)
		if err := rows.Scan(
			&session.ID,
			&session.OwnerID,
			&state,
			&session.Artifact,
			&lastError,
			&session.CreatedAt,
			&session.UpdatedAt,
		); err != nil {
			return nil, err
		}
		session.State = bridge.State(state)
		session.LastError = lastError.String
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// Delete purges a session record. Subsequent loads report NotFound.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := s.execRetry(ctx, "DELETE FROM link_sessions WHERE session_id = ?", id); err != nil {
		return err
	}
	s.notify(Event{Type: EventSessionDeleted, SessionID: id, Timestamp: time.Now().UTC()})
	return nil
}

// execRetry retries writes that hit SQLITE_BUSY with exponential
// backoff.
func (s *SQLiteStore) execRetry(ctx context.Context, query string, args ...any) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !isBusyError(err) || attempt == maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay * time.Duration(1<<uint(attempt))):
		}
	}
	return err
}

func isBusyError(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
