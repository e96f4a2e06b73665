package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/matrix-shim/internal/session"
)

func newTestAuthService(t *testing.T) (*Service, *session.State) {
	t.Helper()

	sessions := session.NewState()
	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(sessions, jwtConfig), sessions
}

func TestLogin_RequiresSession(t *testing.T) {
	svc, _ := newTestAuthService(t)

	if _, err := svc.Login(LoginTypeToken, "anything", ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestLogin_RejectsUnsupportedType(t *testing.T) {
	svc, sessions := newTestAuthService(t)
	sessions.Set(session.Session{DID: "did:plc:alice", Token: "login-token"})

	if _, err := svc.Login("m.login.password", "login-token", ""); !errors.Is(err, ErrUnsupportedLoginType) {
		t.Fatalf("expected ErrUnsupportedLoginType, got %v", err)
	}
}

func TestLogin_RejectsWrongToken(t *testing.T) {
	svc, sessions := newTestAuthService(t)
	sessions.Set(session.Session{DID: "did:plc:alice", Token: "login-token"})

	if _, err := svc.Login(LoginTypeToken, "other", ""); !errors.Is(err, ErrInvalidLoginToken) {
		t.Fatalf("expected ErrInvalidLoginToken, got %v", err)
	}
}

func TestLogin_IssuesTokenForSession(t *testing.T) {
	svc, sessions := newTestAuthService(t)
	sessions.Set(session.Session{DID: "did:plc:alice", Token: "login-token-123"})

	res, err := svc.Login(LoginTypeToken, "login-token-123", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.UserID != "did:plc:alice" {
		t.Fatalf("expected user did:plc:alice, got %s", res.UserID)
	}
	if res.DeviceID != "login-toke" {
		t.Fatalf("expected derived device id, got %q", res.DeviceID)
	}

	sess, claims, err := svc.Authenticate(res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sess.DID != "did:plc:alice" || claims.DeviceID != res.DeviceID {
		t.Fatalf("unexpected session/claims: %+v %+v", sess, claims)
	}
}

func TestAuthenticate_RejectsTokenFromPreviousSession(t *testing.T) {
	svc, sessions := newTestAuthService(t)
	sessions.Set(session.Session{DID: "did:plc:alice", Token: "first"})

	res, err := svc.Login(LoginTypeToken, "first", "DEVICE")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	sessions.Set(session.Session{DID: "did:plc:alice", Token: "second"})
	if _, _, err := svc.Authenticate(res.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticate_RejectsGarbage(t *testing.T) {
	svc, sessions := newTestAuthService(t)
	sessions.Set(session.Session{DID: "did:plc:alice", Token: "tok"})

	for _, token := range []string{"", "not-a-jwt"} {
		if _, _, err := svc.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestValidateToken_ChecksIssuerAndExpiry(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s"), Issuer: "shim", TTL: time.Minute}
	token, err := GenerateToken(cfg, "sid", "did:plc:alice", "DEV")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := &JWTConfig{Secret: []byte("s"), Issuer: "someone-else", TTL: time.Minute}
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}

	expired := &JWTConfig{Secret: []byte("s"), Issuer: "shim", TTL: -time.Minute}
	stale, err := GenerateToken(expired, "sid", "did:plc:alice", "DEV")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, stale); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
