package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/matrix-shim/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_sessions (
	provider      TEXT PRIMARY KEY,
	did           TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry        INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	// Run setup function (e.g., apply schema)
	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the tables the store needs.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SessionStore implementation ====

// SaveOAuthSession inserts or replaces the session for its provider.
func (s *SQLiteStore) SaveOAuthSession(ctx context.Context, sess *store.OAuthSession) error {
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO oauth_sessions (provider, did, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			did = excluded.did,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.Provider,
		sess.DID,
		sess.AccessToken,
		sess.RefreshToken,
		sess.TokenType,
		unixMilli(sess.Expiry),
		sess.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save oauth session: %w", err)
	}
	return nil
}

// GetOAuthSession returns the session for provider or store.ErrNotFound.
func (s *SQLiteStore) GetOAuthSession(ctx context.Context, provider string) (*store.OAuthSession, error) {
	query := `
		SELECT provider, did, access_token, refresh_token, token_type, expiry, updated_at
		FROM oauth_sessions
		WHERE provider = ?
	`
	var (
		sess      store.OAuthSession
		expiry    int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, provider).Scan(
		&sess.Provider,
		&sess.DID,
		&sess.AccessToken,
		&sess.RefreshToken,
		&sess.TokenType,
		&expiry,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get oauth session: %w", err)
	}

	if expiry != 0 {
		sess.Expiry = time.UnixMilli(expiry)
	}
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// DeleteOAuthSession removes the session for provider.
func (s *SQLiteStore) DeleteOAuthSession(ctx context.Context, provider string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_sessions WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("delete oauth session: %w", err)
	}
	return nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
