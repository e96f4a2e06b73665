package http

import (
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/auth"
	"github.com/vovakirdan/matrix-shim/internal/config"
	"github.com/vovakirdan/matrix-shim/internal/core"
	"github.com/vovakirdan/matrix-shim/internal/oauth"
	"github.com/vovakirdan/matrix-shim/internal/proto"
	"github.com/vovakirdan/matrix-shim/internal/session"
)

// Services bundles the collaborators the HTTP layer depends on.
type Services struct {
	Rooms       *core.RoomStore
	Syncer      *core.Syncer
	Sessions    *session.State
	Establisher *session.Establisher
	Auth        *auth.Service
	OAuth       oauth.Client
	Resolver    session.HandleResolver
}

// NewServer builds an HTTP server serving the Matrix client-server routes.
// No write timeout is set so long-polls can run to their own deadline.
func NewServer(svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(svc, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers public routes, then the auth gate, then protected routes.
func NewRouter(svc Services, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panicked")
		c.AbortWithStatusJSON(stdhttp.StatusInternalServerError, proto.Error{
			Code:    proto.ErrCodeUnknown,
			Message: "internal server error",
		})
	}))
	r.Use(MetricsMiddleware())
	r.Use(LoggerMiddleware(logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Accept", "Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:          12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/_matrix/") {
			if _, ok := svc.Sessions.Current(); !ok {
				abortSoftLogout(c)
				return
			}
		}
		writeError(c, stdhttp.StatusNotFound, proto.ErrCodeUnrecognized, "unrecognized request")
	})

	api := NewAPIHandlers(svc, cfg, logger)
	rooms := NewRoomHandlers(svc.Rooms, cfg.SendRateLimit, logger)
	users := NewUserHandlers(svc.Resolver, logger)
	syncs := NewSyncHandlers(svc.Syncer, cfg.Sync, logger)

	// Public routes
	r.GET("/health", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/_matrix/client/versions", api.Versions)
	r.GET("/_matrix/login/sso/redirect", api.SSORedirect)
	r.GET("/_matrix/client/v3/login/sso/redirect", api.SSORedirect)
	r.GET("/_matrix/client/v3/login/sso/redirect/:idpId", api.SSORedirect)
	r.GET(config.CallbackPath, api.OAuthCallback)
	r.GET("/_matrix/client/v3/login", api.LoginFlows)
	r.POST("/_matrix/client/v3/login", api.Login)

	// Everything below requires a session
	m := r.Group("/_matrix", AuthGate(svc.Sessions, svc.Auth, cfg.RequireAccessToken, logger))

	m.GET("/media/v3/config", mediaConfig(cfg.UploadSizeLimit))
	m.GET("/client/v1/media/config", mediaConfig(cfg.UploadSizeLimit))

	v3 := m.Group("/client/v3")
	v3.GET("/pushrules/", pushRules)
	v3.GET("/voip/turnServer", turnServer)
	v3.GET("/devices", devices)
	v3.GET("/room_keys/version", roomKeysVersion)
	v3.GET("/capabilities", capabilities)
	v3.POST("/keys/query", keysQuery)
	v3.POST("/keys/upload", keysUpload)
	v3.POST("/user/:userId/filter", createFilter)
	v3.GET("/user/:userId/filter/:filterId", getFilter)

	v3.POST("/logout", api.Logout)
	v3.GET("/account/whoami", users.WhoAmI)
	v3.GET("/profile/:userId", users.Profile)
	v3.GET("/profile/:userId/displayname", users.Profile)

	v3.GET("/rooms/:roomId/members", rooms.Members)
	v3.GET("/rooms/:roomId/messages", rooms.Messages)
	v3.GET("/rooms/:roomId/state", rooms.State)
	v3.PUT("/rooms/:roomId/state/:eventType", rooms.PutState)
	v3.PUT("/rooms/:roomId/state/:eventType/:stateKey", rooms.PutState)
	v3.PUT("/rooms/:roomId/typing/:userId", rooms.Typing)
	v3.PUT("/rooms/:roomId/send/:eventType/:txnId", rooms.Send)

	v3.GET("/sync", syncs.Sync)

	return r
}
