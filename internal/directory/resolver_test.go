package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	logger := zerolog.Nop()
	r, err := NewResolver(Config{PLCURL: ts.URL, CacheSize: 8}, &logger)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r, &hits
}

func TestResolveHandleStripsPrefixAndCaches(t *testing.T) {
	r, hits := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/did:plc:alice" {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write([]byte(`{"id":"did:plc:alice","alsoKnownAs":["at://alice.bsky.social"]}`))
	})

	for _i := 0; _i < 3; _i++ {
		handle, err := r.ResolveHandle(context.Background(), "did:plc:alice")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if handle != "alice.bsky.social" {
			t.Fatalf("expected alice.bsky.social, got %q", handle)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream hit, got %d", hits.Load())
	}
}

func TestResolveHandleUpstreamFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "not found", code: http.StatusNotFound},
		{name: "invalid json", code: http.StatusOK, body: `{"alsoKnownAs":`},
		{name: "missing alsoKnownAs", code: http.StatusOK, body: `{"id":"did:plc:alice"}`},
		{name: "empty alsoKnownAs", code: http.StatusOK, body: `{"alsoKnownAs":[]}`},
		{name: "wrong scheme", code: http.StatusOK, body: `{"alsoKnownAs":["https://alice.test"]}`},
		{name: "non-string entry", code: http.StatusOK, body: `{"alsoKnownAs":[42]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})

			if _, err := r.ResolveHandle(context.Background(), "did:plc:alice"); !errors.Is(err, ErrUpstream) {
				t.Fatalf("expected ErrUpstream, got %v", err)
			}
		})
	}
}

func TestResolveHandleUnsupportedMethod(t *testing.T) {
	r, hits := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {})

	if _, err := r.ResolveHandle(context.Background(), "did:key:z6Mk"); !errors.Is(err, ErrUnsupportedDID) {
		t.Fatalf("expected ErrUnsupportedDID, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("unsupported DID should not reach the directory")
	}
}

func TestWebDocumentURL(t *testing.T) {
	tests := []struct {
		did     string
		want    string
		wantErr bool
	}{
		{did: "did:web:example.com", want: "https://example.com/.well-known/did.json"},
		{did: "did:web:localhost%3A8443", want: "https://localhost:8443/.well-known/did.json"},
		{did: "did:web:example.com:users:alice", want: "https://example.com/users/alice/did.json"},
		{did: "did:web:", wantErr: true},
	}

	for _, tt := range tests {
		got, err := webDocumentURL(tt.did)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %q", tt.did, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%s: expected %q, got %q (%v)", tt.did, tt.want, got, err)
		}
	}
}

func TestResolveHandleSurvivesFirstCallerCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	r, hits := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		started <- struct{}{}
		select {
		case <-release:
		case <-req.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"id":"did:plc:alice","alsoKnownAs":["at://alice.bsky.social"]}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.ResolveHandle(ctx, "did:plc:alice")
		firstErr <- err
	}()

	<-started
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for the first caller, got %v", err)
	}

	second := make(chan string, 1)
	go func() {
		handle, err := r.ResolveHandle(context.Background(), "did:plc:alice")
		if err != nil {
			t.Errorf("second resolve: %v", err)
		}
		second <- handle
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case handle := <-second:
		if handle != "alice.bsky.social" {
			t.Fatalf("expected alice.bsky.social, got %q", handle)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second caller never returned")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected the shared fetch to finish once, got %d upstream hits", hits.Load())
	}
}
