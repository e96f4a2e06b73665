package http

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/vovakirdan/matrix-shim/internal/config"
	"github.com/vovakirdan/matrix-shim/internal/proto"
	"github.com/vovakirdan/matrix-shim/internal/session"
)

func TestGateRejectsWithoutSession(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/_matrix/client/v3/sync",
		"/_matrix/client/v3/pushrules/",
		"/_matrix/media/v3/config",
		roomPath("/members"),
	} {
		rec := env.do(http.MethodGet, path, "")
		expectStatus(t, rec, http.StatusUnauthorized)

		var body proto.Error
		decodeBody(t, rec, &body)
		if body.Code != proto.ErrCodeUnknownToken || body.Message != "AtProto session expired" || !body.SoftLogout {
			t.Fatalf("%s: unexpected body %+v", path, body)
		}
	}
}

func TestPublicRoutesWorkWithoutSession(t *testing.T) {
	env := newTestEnv(t, nil)

	expectStatus(t, env.do(http.MethodGet, "/health", ""), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/metrics", ""), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/_matrix/client/versions", ""), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/_matrix/client/v3/login", ""), http.StatusOK)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)

	expectErrCode(t, env.do(http.MethodGet, "/_matrix/client/v3/nothing-here", ""), http.StatusNotFound, proto.ErrCodeUnrecognized)
}

func TestUnroutedMatrixPathWithoutSession(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/_matrix/client/v3/joined_rooms", "")
	expectStatus(t, rec, http.StatusUnauthorized)
	var body proto.Error
	decodeBody(t, rec, &body)
	if body.Code != proto.ErrCodeUnknownToken || !body.SoftLogout {
		t.Fatalf("unexpected body %+v", body)
	}

	expectErrCode(t, env.do(http.MethodGet, "/elsewhere", ""), http.StatusNotFound, proto.ErrCodeUnrecognized)

	env.login(t)
	expectErrCode(t, env.do(http.MethodGet, "/_matrix/client/v3/joined_rooms", ""), http.StatusNotFound, proto.ErrCodeUnrecognized)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodOptions, "/_matrix/client/v3/sync", "",
		"Origin", "https://app.test",
		"Access-Control-Request-Method", "GET",
	)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestGateWithoutTokenRequirement(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)

	rec := env.do(http.MethodGet, "/_matrix/client/v3/account/whoami", "")
	expectStatus(t, rec, http.StatusOK)

	var body proto.WhoAmIResponse
	decodeBody(t, rec, &body)
	if body.UserID != testDID {
		t.Fatalf("unexpected whoami: %+v", body)
	}
}

func TestGateRequiresAccessToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.RequireAccessToken = true })
	sess := env.login(t)

	const whoami = "/_matrix/client/v3/account/whoami"
	expectErrCode(t, env.do(http.MethodGet, whoami, ""), http.StatusUnauthorized, proto.ErrCodeUnknownToken)
	expectErrCode(t, env.do(http.MethodGet, whoami, "", "Authorization", "Bearer garbage"), http.StatusUnauthorized, proto.ErrCodeUnknownToken)

	res, err := env.auth.Login("m.login.token", sess.Token, "LAPTOP")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	rec := env.do(http.MethodGet, whoami, "", "Authorization", "Bearer "+res.AccessToken)
	expectStatus(t, rec, http.StatusOK)
	var body proto.WhoAmIResponse
	decodeBody(t, rec, &body)
	if body.UserID != testDID || body.DeviceID != "LAPTOP" {
		t.Fatalf("unexpected whoami: %+v", body)
	}

	// Query parameter form.
	expectStatus(t, env.do(http.MethodGet, whoami+"?access_token="+res.AccessToken, ""), http.StatusOK)

	// A new login invalidates tokens minted for the previous session.
	env.sessions.Set(session.Session{DID: testDID, Token: "rotated"})
	expectErrCode(t, env.do(http.MethodGet, whoami, "", "Authorization", "Bearer "+res.AccessToken), http.StatusUnauthorized, proto.ErrCodeUnknownToken)
}

func TestAccessTokenExtraction(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.RequireAccessToken = true })
	sess := env.login(t)
	res, err := env.auth.Login("m.login.token", sess.Token, "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// A malformed Authorization header is not rescued by the query parameter.
	path := fmt.Sprintf("/_matrix/client/v3/account/whoami?access_token=%s", res.AccessToken)
	rec := env.do(http.MethodGet, path, "", "Authorization", "Token "+res.AccessToken)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(http.MethodGet, path, "", "Authorization", "bearer "+res.AccessToken)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), testDID) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}

	rec = env.do(http.MethodGet, "/health", "", "X-Request-ID", "abc123")
	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Fatalf("expected caller request id to be echoed, got %q", got)
	}
}
