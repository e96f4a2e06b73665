// Package oauth delegates identity to an AT Protocol OAuth authorization server.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/vovakirdan/matrix-shim/internal/store"
)

const maxPendingFlows = 64

var (
	// ErrDenied is returned when the authorization server reports an error on the callback.
	ErrDenied = errors.New("authorization denied")
	// ErrUnknownState is returned when a callback carries a state we never issued.
	ErrUnknownState = errors.New("unknown oauth state")
	// ErrExchange wraps failures exchanging or refreshing tokens.
	ErrExchange = errors.New("token exchange failed")
)

// Session is an authenticated identity returned by the authorization server.
type Session struct {
	Provider string
	DID      string
	Token    *oauth2.Token
}

// Client is the identity collaborator the HTTP layer depends on.
type Client interface {
	// Authorize returns the authorization URL the user agent should visit.
	Authorize(ctx context.Context, provider, state string) (*url.URL, error)
	// Callback completes a flow with the query parameters of the redirect.
	Callback(ctx context.Context, params url.Values) (*Session, error)
	// Restore returns a previously stored session, or nil when none exists.
	Restore(ctx context.Context, provider string) (*Session, error)
	// Forget drops the stored session for provider.
	Forget(ctx context.Context, provider string) error
}

// Config configures an OAuth2Client.
type Config struct {
	ClientID    string
	RedirectURL string
	Scopes      []string
	// AuthURL and TokenURL override the endpoints derived from the provider.
	AuthURL  string
	TokenURL string
}

type pendingFlow struct {
	provider string
	verifier string
}

// OAuth2Client runs the authorization-code flow with PKCE and persists the
// resulting tokens so a restart can restore the session.
type OAuth2Client struct {
	cfg      Config
	sessions store.SessionStore
	pending  *lru.Cache
	log      *zerolog.Logger
	now      func() time.Time
}

// NewOAuth2Client builds a client. sessions may be nil, in which case Restore
// never finds anything.
func NewOAuth2Client(cfg Config, sessions store.SessionStore, logger *zerolog.Logger) *OAuth2Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	pending, _ := lru.New(maxPendingFlows)
	return &OAuth2Client{
		cfg:      cfg,
		sessions: sessions,
		pending:  pending,
		log:      logger,
		now:      time.Now,
	}
}

// Authorize starts a flow and remembers its PKCE verifier under state.
func (c *OAuth2Client) Authorize(_ context.Context, provider, state string) (*url.URL, error) {
	if state == "" {
		return nil, fmt.Errorf("authorize: state is required")
	}

	verifier := oauth2.GenerateVerifier()
	c.pending.Add(state, pendingFlow{provider: provider, verifier: verifier})

	conf := c.config(provider)
	raw := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse authorization url: %w", err)
	}
	return u, nil
}

// Callback exchanges the authorization code for tokens.
func (c *OAuth2Client) Callback(ctx context.Context, params url.Values) (*Session, error) {
	state := params.Get("state")
	v, ok := c.pending.Peek(state)
	if !ok || !c.pending.Remove(state) {
		return nil, ErrUnknownState
	}
	flow := v.(pendingFlow)

	if e := params.Get("error"); e != "" {
		if desc := params.Get("error_description"); desc != "" {
			e += ": " + desc
		}
		return nil, fmt.Errorf("%w: %s", ErrDenied, e)
	}

	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: callback has no code", ErrExchange)
	}

	tok, err := c.config(flow.provider).Exchange(ctx, code, oauth2.VerifierOption(flow.verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	did, _ := tok.Extra("sub").(string)
	if !strings.HasPrefix(did, "did:") {
		return nil, fmt.Errorf("%w: token response has no DID subject", ErrExchange)
	}

	sess := &Session{Provider: flow.provider, DID: did, Token: tok}
	c.persist(ctx, sess)

	c.log.Info().Str("did", did).Str("provider", flow.provider).Msg("oauth session established")
	return sess, nil
}

// Restore loads the stored session for provider, refreshing it if it expired.
func (c *OAuth2Client) Restore(ctx context.Context, provider string) (*Session, error) {
	if c.sessions == nil {
		return nil, nil
	}

	stored, err := c.sessions.GetOAuthSession(ctx, provider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load oauth session: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}
	sess := &Session{Provider: provider, DID: stored.DID, Token: tok}

	if tok.Expiry.IsZero() || c.now().Before(tok.Expiry) {
		return sess, nil
	}
	if tok.RefreshToken == "" {
		c.log.Info().Str("provider", provider).Msg("stored oauth session expired without refresh token")
		return nil, nil
	}

	// An empty access token forces the token source to refresh.
	fresh, err := c.config(provider).TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", ErrExchange, err)
	}
	sess.Token = fresh
	c.persist(ctx, sess)
	return sess, nil
}

// Forget deletes the persisted tokens so the next start does not restore them.
func (c *OAuth2Client) Forget(ctx context.Context, provider string) error {
	if c.sessions == nil {
		return nil
	}
	if err := c.sessions.DeleteOAuthSession(ctx, provider); err != nil {
		return fmt.Errorf("forget oauth session: %w", err)
	}
	return nil
}

func (c *OAuth2Client) persist(ctx context.Context, sess *Session) {
	if c.sessions == nil {
		return
	}
	err := c.sessions.SaveOAuthSession(ctx, &store.OAuthSession{
		Provider:     sess.Provider,
		DID:          sess.DID,
		AccessToken:  sess.Token.AccessToken,
		RefreshToken: sess.Token.RefreshToken,
		TokenType:    sess.Token.TokenType,
		Expiry:       sess.Token.Expiry,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("provider", sess.Provider).Msg("failed to persist oauth session")
	}
}

func (c *OAuth2Client) config(provider string) *oauth2.Config {
	base := strings.TrimRight(provider, "/")
	authURL := c.cfg.AuthURL
	if authURL == "" {
		authURL = base + "/oauth/authorize"
	}
	tokenURL := c.cfg.TokenURL
	if tokenURL == "" {
		tokenURL = base + "/oauth/token"
	}

	return &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURL,
		Scopes:      c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
