package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/matrix-shim/internal/store"
	"github.com/vovakirdan/matrix-shim/internal/store/sqlite"
)

type fakeAuthServer struct {
	server *httptest.Server

	mu       sync.Mutex
	lastForm url.Values
	sub      string
}

func (f *fakeAuthServer) setSub(sub string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub = sub
}

func (f *fakeAuthServer) form() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()

	f := &fakeAuthServer{sub: "did:plc:alice"}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastForm = r.PostForm
		sub := f.sub
		f.mu.Unlock()

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" || r.PostForm.Get("code_verifier") == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "rt-1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-" + r.PostForm.Get("grant_type"),
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "rt-1",
			"scope":         "atproto transition:generic",
			"sub":           sub,
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestClient(t *testing.T, sessions store.SessionStore) *OAuth2Client {
	t.Helper()

	return NewOAuth2Client(Config{
		ClientID:    "http://localhost?redirect_uri=http%3A%2F%2F127.0.0.1%3A8080%2Fcb",
		RedirectURL: "http://127.0.0.1:8080/cb",
		Scopes:      []string{"atproto", "transition:generic"},
	}, sessions, nil)
}

func TestAuthorizeBuildsPKCEURL(t *testing.T) {
	auth := newFakeAuthServer(t)
	client := newTestClient(t, nil)

	u, err := client.Authorize(context.Background(), auth.server.URL, "state-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if u.Path != "/oauth/authorize" {
		t.Fatalf("unexpected authorize path %q", u.Path)
	}
	q := u.Query()
	if q.Get("state") != "state-1" || q.Get("response_type") != "code" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("expected PKCE challenge, got %v", q)
	}
	if q.Get("scope") != "atproto transition:generic" {
		t.Fatalf("unexpected scope %q", q.Get("scope"))
	}
}

func TestCallbackExchangesCode(t *testing.T) {
	auth := newFakeAuthServer(t)
	st := newTestStore(t)
	client := newTestClient(t, st)
	ctx := context.Background()

	if _, err := client.Authorize(ctx, auth.server.URL, "state-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	sess, err := client.Callback(ctx, url.Values{"state": {"state-1"}, "code": {"good-code"}})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if sess.DID != "did:plc:alice" || sess.Token.AccessToken != "at-authorization_code" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if auth.form().Get("code_verifier") == "" {
		t.Fatalf("token request carried no code_verifier")
	}

	stored, err := st.GetOAuthSession(ctx, auth.server.URL)
	if err != nil {
		t.Fatalf("expected session to be persisted: %v", err)
	}
	if stored.DID != "did:plc:alice" || stored.RefreshToken != "rt-1" {
		t.Fatalf("unexpected stored session: %+v", stored)
	}

	// The flow is single use.
	if _, err := client.Callback(ctx, url.Values{"state": {"state-1"}, "code": {"good-code"}}); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState on replay, got %v", err)
	}
}

func TestConcurrentCallbacksShareOneFlow(t *testing.T) {
	auth := newFakeAuthServer(t)
	client := newTestClient(t, newTestStore(t))
	ctx := context.Background()

	if _, err := client.Authorize(ctx, auth.server.URL, "state-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for _i := 0; _i < callers; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Callback(ctx, url.Values{"state": {"state-1"}, "code": {"good-code"}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, unknown int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrUnknownState):
			unknown++
		default:
			t.Fatalf("unexpected callback error: %v", err)
		}
	}
	if ok != 1 || unknown != callers-1 {
		t.Fatalf("expected one success and %d ErrUnknownState, got %d and %d", callers-1, ok, unknown)
	}
}

func TestCallbackFailures(t *testing.T) {
	auth := newFakeAuthServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  url.Values
		sub     string
		wantErr error
	}{
		{name: "unknown state", params: url.Values{"state": {"nope"}, "code": {"good-code"}}, wantErr: ErrUnknownState},
		{name: "denied", params: url.Values{"state": {"s"}, "error": {"access_denied"}}, wantErr: ErrDenied},
		{name: "missing code", params: url.Values{"state": {"s"}}, wantErr: ErrExchange},
		{name: "bad code", params: url.Values{"state": {"s"}, "code": {"bad"}}, wantErr: ErrExchange},
		{name: "no did", params: url.Values{"state": {"s"}, "code": {"good-code"}}, sub: "alice", wantErr: ErrExchange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth.setSub("did:plc:alice")
			if tt.sub != "" {
				auth.setSub(tt.sub)
			}
			client := newTestClient(t, nil)
			if _, err := client.Authorize(ctx, auth.server.URL, "s"); err != nil {
				t.Fatalf("authorize: %v", err)
			}
			if _, err := client.Callback(ctx, tt.params); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRestore(t *testing.T) {
	auth := newFakeAuthServer(t)
	st := newTestStore(t)
	client := newTestClient(t, st)
	ctx := context.Background()

	sess, err := client.Restore(ctx, auth.server.URL)
	if err != nil || sess != nil {
		t.Fatalf("expected no session before login, got %+v (%v)", sess, err)
	}

	if err := st.SaveOAuthSession(ctx, &store.OAuthSession{
		Provider:     auth.server.URL,
		DID:          "did:plc:alice",
		AccessToken:  "stored",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	sess, err = client.Restore(ctx, auth.server.URL)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if sess == nil || sess.DID != "did:plc:alice" || sess.Token.AccessToken != "stored" {
		t.Fatalf("unexpected restored session: %+v", sess)
	}

	// Once expired, Restore refreshes through the token endpoint.
	client.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	sess, err = client.Restore(ctx, auth.server.URL)
	if err != nil {
		t.Fatalf("restore after expiry: %v", err)
	}
	if sess == nil || sess.Token.AccessToken != "at-refresh_token" {
		t.Fatalf("expected refreshed token, got %+v", sess)
	}

	if err := client.Forget(ctx, auth.server.URL); err != nil {
		t.Fatalf("forget: %v", err)
	}
	sess, err = client.Restore(ctx, auth.server.URL)
	if err != nil || sess != nil {
		t.Fatalf("expected nothing to restore after forget, got %+v (%v)", sess, err)
	}
}
