// Package directory resolves decentralized identifiers to human-readable handles.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/matrix-shim/internal/metrics"
)

const (
	// DefaultPLCURL is the public PLC directory.
	DefaultPLCURL = "https://plc.directory"

	handlePrefix    = "at://"
	maxDocumentSize = 1 << 20
)

var (
	// ErrUpstream wraps every failure talking to, or understanding, the directory.
	ErrUpstream = errors.New("directory lookup failed")
	// ErrUnsupportedDID is returned for DID methods the resolver cannot look up.
	ErrUnsupportedDID = errors.New("unsupported did method")
)

// Config configures a Resolver.
type Config struct {
	PLCURL    string
	CacheSize int
	Timeout   time.Duration
}

// Resolver maps DIDs to handles by fetching their DID documents.
type Resolver struct {
	plcURL  string
	client  *http.Client
	cache   *lru.Cache
	timeout time.Duration
	group   singleflight.Group
	log     *zerolog.Logger
}

// NewResolver builds a resolver with an LRU cache of resolved handles.
func NewResolver(cfg Config, logger *zerolog.Logger) (*Resolver, error) {
	if cfg.PLCURL == "" {
		cfg.PLCURL = DefaultPLCURL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create handle cache: %w", err)
	}

	return &Resolver{
		plcURL:  strings.TrimRight(cfg.PLCURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		timeout: cfg.Timeout,
		log:     logger,
	}, nil
}

// ResolveHandle returns the handle the DID document advertises. Concurrent
// lookups of one DID share a fetch that outlives any single caller's context.
func (r *Resolver) ResolveHandle(ctx context.Context, did string) (string, error) {
	if v, ok := r.cache.Get(did); ok {
		metrics.DirectoryLookups.WithLabelValues("cached").Inc()
		return v.(string), nil
	}

	ch := r.group.DoChan(did, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		handle, err := r.fetchHandle(fetchCtx, did)
		if err != nil {
			return "", err
		}
		r.cache.Add(did, handle)
		return handle, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.DirectoryLookups.WithLabelValues("error").Inc()
			return "", res.Err
		}
		metrics.DirectoryLookups.WithLabelValues("ok").Inc()
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) fetchHandle(ctx context.Context, did string) (string, error) {
	docURL, err := r.documentURL(did)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %d", ErrUpstream, docURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return "", fmt.Errorf("%w: read document: %v", ErrUpstream, err)
	}

	handle, err := handleFromDocument(body)
	if err != nil {
		return "", err
	}

	r.log.Debug().Str("did", did).Str("handle", handle).Msg("resolved handle")
	return handle, nil
}

func (r *Resolver) documentURL(did string) (string, error) {
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		return r.plcURL + "/" + url.PathEscape(did), nil
	case strings.HasPrefix(did, "did:web:"):
		return webDocumentURL(did)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDID, did)
	}
}

// webDocumentURL maps did:web:example.com to https://example.com/.well-known/did.json
// and did:web:example.com:u:alice to https://example.com/u/alice/did.json.
func webDocumentURL(did string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(did, "did:web:"), ":")
	host, err := url.PathUnescape(parts[0])
	if err != nil || host == "" || strings.Contains(host, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDID, did)
	}
	if len(parts) == 1 {
		return "https://" + host + "/.well-known/did.json", nil
	}
	return "https://" + host + "/" + strings.Join(parts[1:], "/") + "/did.json", nil
}

// handleFromDocument reads alsoKnownAs[0] and strips the at:// prefix.
func handleFromDocument(doc []byte) (string, error) {
	if !gjson.ValidBytes(doc) {
		return "", fmt.Errorf("%w: document is not valid JSON", ErrUpstream)
	}

	aka := gjson.GetBytes(doc, "alsoKnownAs.0")
	if !aka.Exists() || aka.Type != gjson.String {
		return "", fmt.Errorf("%w: document has no alsoKnownAs entry", ErrUpstream)
	}

	uri := aka.String()
	if !strings.HasPrefix(uri, handlePrefix) || len(uri) == len(handlePrefix) {
		return "", fmt.Errorf("%w: unexpected alsoKnownAs value %q", ErrUpstream, uri)
	}
	return strings.TrimPrefix(uri, handlePrefix), nil
}
