package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/auth"
	"github.com/vovakirdan/matrix-shim/internal/config"
	"github.com/vovakirdan/matrix-shim/internal/core"
	"github.com/vovakirdan/matrix-shim/internal/directory"
	"github.com/vovakirdan/matrix-shim/internal/oauth"
	"github.com/vovakirdan/matrix-shim/internal/session"
	"github.com/vovakirdan/matrix-shim/internal/store"
	"github.com/vovakirdan/matrix-shim/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/matrix-shim/internal/transport/http"
	"github.com/vovakirdan/matrix-shim/internal/utils"
)

// App wires together core and transport layers.
type App struct {
	cfg         *config.Config
	server      *stdhttp.Server
	store       store.Store
	rooms       *core.RoomStore
	sessions    *session.State
	oauth       oauth.Client
	establisher *session.Establisher
	baseCancel  context.CancelFunc
	log         *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	// Initialize database store
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	changes := core.NewNotifier()
	rooms := core.NewRoomStore(changes)
	if err := SeedRoom(rooms, cfg.Room); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed room: %w", err)
	}

	resolver, err := directory.NewResolver(directory.Config{
		PLCURL:    cfg.Directory.PLCURL,
		CacheSize: cfg.Directory.CacheSize,
		Timeout:   cfg.Directory.Timeout,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init directory: %w", err)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret, err = utils.NewToken(32)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		logger.Warn().Msg("jwt_secret not set, access tokens will not survive a restart")
	}

	// Create JWT config
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(secret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.PublicBaseURL,
		TTL:      cfg.AccessTokenTTL,
	}

	sessions := session.NewState()
	authService := auth.NewService(sessions, jwtConfig)
	establisher := session.NewEstablisher(sessions, resolver, rooms, cfg.Room.ID, logger)

	oauthClient := oauth.NewOAuth2Client(oauth.Config{
		ClientID:    cfg.ClientID(),
		RedirectURL: cfg.RedirectURL(),
		Scopes:      cfg.OAuth.Scopes,
		AuthURL:     cfg.OAuth.AuthURL,
		TokenURL:    cfg.OAuth.TokenURL,
	}, st, logger)

	server := transporthttp.NewServer(transporthttp.Services{
		Rooms:       rooms,
		Syncer:      core.NewSyncer(rooms, changes),
		Sessions:    sessions,
		Establisher: establisher,
		Auth:        authService,
		OAuth:       oauthClient,
		Resolver:    resolver,
	}, cfg, logger)

	// Long-polls inherit this context and end when it is cancelled.
	baseCtx, baseCancel := context.WithCancel(context.Background())
	server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	return &App{
		cfg:         cfg,
		server:      server,
		store:       st,
		rooms:       rooms,
		sessions:    sessions,
		oauth:       oauthClient,
		establisher: establisher,
		baseCancel:  baseCancel,
		log:         logger,
	}, nil
}

// SeedRoom creates the configured room with its create, creator membership
// and name state events.
func SeedRoom(rooms *core.RoomStore, room config.RoomConfig) error {
	if err := rooms.CreateRoom(room.ID); err != nil {
		return err
	}

	seed := []struct {
		eventType string
		stateKey  string
		content   map[string]any
	}{
		{core.EventTypeCreate, "", map[string]any{"creator": room.Creator, "room_version": room.Version}},
		{core.EventTypeMember, room.Creator, map[string]any{"membership": "join"}},
		{core.EventTypeName, "", map[string]any{"name": room.Name}},
	}
	for _, ev := range seed {
		if _, err := rooms.PutStateEvent(room.ID, ev.eventType, ev.stateKey, ev.content, room.Creator); err != nil {
			return fmt.Errorf("seed %s: %w", ev.eventType, err)
		}
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	a.restoreSession(ctx)

	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("starting matrix shim")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		a.baseCancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// restoreSession re-establishes the identity persisted by a previous run.
func (a *App) restoreSession(ctx context.Context) {
	provider := a.cfg.OAuth.Provider
	sess, err := a.oauth.Restore(ctx, provider)
	if err != nil {
		a.log.Warn().Err(err).Str("provider", provider).Msg("failed to restore oauth session")
		return
	}
	if sess == nil {
		a.log.Info().Str("provider", provider).Msg("no stored oauth session")
		return
	}
	if _, err := a.establisher.Establish(ctx, sess.DID); err != nil {
		a.log.Warn().Err(err).Str("did", sess.DID).Msg("failed to establish restored session")
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	a.baseCancel()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
