package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("not found")

// OAuthSession is a persisted OAuth token set for one authorization server.
type OAuthSession struct {
	Provider     string
	DID          string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time // zero when the server sent no expiry
	UpdatedAt    time.Time
}

// SessionStore persists OAuth sessions so they can be restored after a restart.
type SessionStore interface {
	// SaveOAuthSession inserts or replaces the session for its provider.
	SaveOAuthSession(ctx context.Context, sess *OAuthSession) error

	// GetOAuthSession returns the session for provider or ErrNotFound.
	GetOAuthSession(ctx context.Context, provider string) (*OAuthSession, error)

	// DeleteOAuthSession removes the session for provider. Missing rows are not an error.
	DeleteOAuthSession(ctx context.Context, provider string) error
}

// Store combines all storage interfaces.
type Store interface {
	SessionStore

	// Close releases database resources.
	Close() error
}
