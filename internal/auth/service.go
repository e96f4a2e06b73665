package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/vovakirdan/matrix-shim/internal/session"
)

// LoginTypeToken is the only login type the shim accepts on POST /login.
const LoginTypeToken = "m.login.token"

var (
	// ErrNoSession is returned when no identity has been established yet.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidLoginToken is returned when the SSO login token does not match the session.
	ErrInvalidLoginToken = errors.New("invalid login token")
	// ErrUnsupportedLoginType is returned for login types other than m.login.token.
	ErrUnsupportedLoginType = errors.New("unsupported login type")
	// ErrInvalidToken is returned when an access token is missing, malformed, or stale.
	ErrInvalidToken = errors.New("invalid access token")
)

// LoginResult is what a successful login hands back to the client.
type LoginResult struct {
	AccessToken string
	DeviceID    string
	UserID      string
}

// Service issues and checks access tokens bound to the current session.
type Service struct {
	sessions  *session.State
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(sessions *session.State, jwtConfig *JWTConfig) *Service {
	return &Service{
		sessions:  sessions,
		jwtConfig: jwtConfig,
	}
}

// Login exchanges the SSO login token for an access token.
func (s *Service) Login(loginType, loginToken, deviceID string) (*LoginResult, error) {
	if loginType != LoginTypeToken {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLoginType, loginType)
	}

	sess, ok := s.sessions.Current()
	if !ok {
		return nil, ErrNoSession
	}
	if subtle.ConstantTimeCompare([]byte(loginToken), []byte(sess.Token)) != 1 {
		return nil, ErrInvalidLoginToken
	}

	if deviceID == "" {
		deviceID = defaultDeviceID(sess.Token)
	}

	token, err := GenerateToken(s.jwtConfig, sess.Token, sess.DID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &LoginResult{
		AccessToken: token,
		DeviceID:    deviceID,
		UserID:      sess.DID,
	}, nil
}

// Authenticate checks that the access token belongs to the active session.
func (s *Service) Authenticate(accessToken string) (session.Session, *Claims, error) {
	sess, ok := s.sessions.Current()
	if !ok {
		return session.Session{}, nil, ErrNoSession
	}
	if accessToken == "" {
		return session.Session{}, nil, ErrInvalidToken
	}

	claims, err := ValidateToken(s.jwtConfig, accessToken)
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID != sess.Token || claims.Subject != sess.DID {
		return session.Session{}, nil, fmt.Errorf("%w: token belongs to a previous session", ErrInvalidToken)
	}
	return sess, claims, nil
}

func defaultDeviceID(token string) string {
	const size = 10
	if len(token) > size {
		return token[:size]
	}
	return token
}
