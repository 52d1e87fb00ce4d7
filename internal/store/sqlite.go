package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	factMu sync.Mutex // serializes fact writes to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		color_scheme TEXT NOT NULL DEFAULT 'system',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS facts (
		user_id TEXT NOT NULL,
		fact_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, fact_id)
	);
	CREATE INDEX IF NOT EXISTS idx_facts_created ON facts(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, color_scheme, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var scheme string
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &scheme, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	pref, err := domain.ParseSchemePreference(scheme)
	if err != nil {
		slog.Warn("Stored color scheme invalid, using system", "user_id", userID, "value", scheme)
		pref = domain.PreferenceSystem
	}
	user.ColorScheme = pref
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, color_scheme, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		color_scheme = excluded.color_scheme,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	scheme := user.ColorScheme
	if scheme == "" {
		scheme = domain.PreferenceSystem
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, string(scheme),
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// UpdateColorScheme stores the user's color scheme preference.
func (s *SQLiteStore) UpdateColorScheme(ctx context.Context, userID string, pref domain.SchemePreference) error {
	query := `UPDATE users SET color_scheme = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(pref), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update color_scheme: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found")
	}
	return nil
}

// SaveFact stores a fact, retrying with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) SaveFact(ctx context.Context, fact *domain.Fact) (bool, error) {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		inserted, err := s.saveFactOnce(ctx, fact)
		if err == nil {
			return inserted, nil
		}
		lastErr = err

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms
			slog.Debug("SaveFact failed with SQLITE_BUSY, retrying",
				"user_id", fact.UserID,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
		break
	}

	return false, fmt.Errorf("save fact %s for %s: %w", fact.FactID, fact.UserID, lastErr)
}

func (s *SQLiteStore) saveFactOnce(ctx context.Context, fact *domain.Fact) (bool, error) {
	s.factMu.Lock()
	defer s.factMu.Unlock()

	query := `
		INSERT INTO facts (user_id, fact_id, text, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, fact_id) DO NOTHING`

	createdAt := fact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query, fact.UserID, fact.FactID, fact.Text, createdAt.Unix())
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListFacts returns a user's facts, newest first.
func (s *SQLiteStore) ListFacts(ctx context.Context, userID string, limit int) ([]*domain.Fact, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT user_id, fact_id, text, created_at
		FROM facts WHERE user_id = ?
		ORDER BY created_at DESC, fact_id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close facts rows", "error", closeErr)
		}
	}()

	var facts []*domain.Fact
	for rows.Next() {
		var fact domain.Fact
		var createdAt int64
		if err := rows.Scan(&fact.UserID, &fact.FactID, &fact.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		fact.CreatedAt = time.Unix(createdAt, 0)
		facts = append(facts, &fact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}

	return facts, nil
}

// DeleteFactsBefore removes facts created before cutoff.
func (s *SQLiteStore) DeleteFactsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.factMu.Lock()
	defer s.factMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired facts: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
