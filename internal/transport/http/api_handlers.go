package http

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/auth"
	"github.com/vovakirdan/matrix-shim/internal/config"
	"github.com/vovakirdan/matrix-shim/internal/oauth"
	"github.com/vovakirdan/matrix-shim/internal/proto"
	"github.com/vovakirdan/matrix-shim/internal/session"
	"github.com/vovakirdan/matrix-shim/internal/utils"
)

const stateBytes = 16

// APIHandlers serves the public login surface.
type APIHandlers struct {
	cfg         *config.Config
	sessions    *session.State
	authService *auth.Service
	oauth       oauth.Client
	establisher *session.Establisher
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(svc Services, cfg *config.Config, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		cfg:         cfg,
		sessions:    svc.Sessions,
		authService: svc.Auth,
		oauth:       svc.OAuth,
		establisher: svc.Establisher,
		log:         logger,
	}
}

// Versions lists supported client-server API versions.
// GET /_matrix/client/versions
func (h *APIHandlers) Versions(c *gin.Context) {
	c.JSON(http.StatusOK, proto.VersionsResponse{Versions: proto.SupportedVersions})
}

// LoginFlows advertises SSO through the configured provider and token login.
// GET /_matrix/client/v3/login
func (h *APIHandlers) LoginFlows(c *gin.Context) {
	c.JSON(http.StatusOK, proto.LoginFlowsResponse{
		Flows: []proto.LoginFlow{
			{
				Type: proto.LoginTypeSSO,
				IdentityProviders: []proto.IdentityProvider{{
					ID:    h.cfg.OAuth.IDPID,
					Name:  h.cfg.OAuth.IDPName,
					Brand: h.cfg.OAuth.IDPBrand,
				}},
			},
			{Type: proto.LoginTypeToken},
		},
	})
}

// Login exchanges the login token handed out by the SSO callback for an access token.
// POST /_matrix/client/v3/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req proto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		writeError(c, http.StatusBadRequest, proto.ErrCodeNotJSON, "invalid login request")
		return
	}

	res, err := h.authService.Login(req.Type, req.Token, req.DeviceID)
	if err != nil {
		h.log.Debug().Err(err).Str("type", req.Type).Msg("login rejected")
		writeErr(c, err)
		return
	}

	h.log.Info().Str("user_id", res.UserID).Str("device_id", res.DeviceID).Msg("user logged in")
	c.JSON(http.StatusOK, proto.LoginResponse{
		AccessToken: res.AccessToken,
		DeviceID:    res.DeviceID,
		UserID:      res.UserID,
	})
}

// SSORedirect starts an OAuth flow and sends the user agent to the provider.
// GET /_matrix/client/v3/login/sso/redirect[/:idpId]
func (h *APIHandlers) SSORedirect(c *gin.Context) {
	if idp := c.Param("idpId"); idp != "" && idp != h.cfg.OAuth.IDPID {
		writeError(c, http.StatusNotFound, proto.ErrCodeNotFound, "unknown identity provider")
		return
	}

	target := c.Query("redirectUrl")
	if target == "" {
		writeError(c, http.StatusBadRequest, proto.ErrCodeMissingParam, "missing required `redirectUrl` query parameter.")
		return
	}
	if u, err := url.Parse(target); err != nil || !u.IsAbs() || u.Host == "" {
		writeError(c, http.StatusBadRequest, proto.ErrCodeInvalidParam, "redirectUrl must be an absolute URL")
		return
	}

	state, err := utils.NewToken(stateBytes)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate oauth state")
		writeErr(c, err)
		return
	}
	h.sessions.PutRedirect(state, target)

	authURL, err := h.oauth.Authorize(c.Request.Context(), h.cfg.OAuth.Provider, state)
	if err != nil {
		h.sessions.TakeRedirect(state)
		h.log.Error().Err(err).Str("provider", h.cfg.OAuth.Provider).Msg("failed to start oauth flow")
		writeError(c, http.StatusBadGateway, proto.ErrCodeUnknown, "failed to contact identity provider")
		return
	}

	c.Redirect(http.StatusFound, authURL.String())
}

// OAuthCallback completes the flow, establishes the session and returns the
// user agent to the client with a login token.
// GET /_matrix/custom/oauth/callback
func (h *APIHandlers) OAuthCallback(c *gin.Context) {
	target, ok := h.sessions.TakeRedirect(c.Query("state"))
	if !ok {
		writeError(c, http.StatusBadRequest, proto.ErrCodeInvalidParam, "unknown or expired login attempt")
		return
	}

	oauthSess, err := h.oauth.Callback(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		h.log.Warn().Err(err).Msg("oauth callback failed")
		writeErr(c, err)
		return
	}

	sess, err := h.establisher.Establish(c.Request.Context(), oauthSess.DID)
	if err != nil {
		h.log.Error().Err(err).Str("did", oauthSess.DID).Msg("failed to establish session")
		writeErr(c, err)
		return
	}

	redirect, err := url.Parse(target)
	if err != nil {
		writeError(c, http.StatusBadRequest, proto.ErrCodeInvalidParam, "redirectUrl must be an absolute URL")
		return
	}
	q := redirect.Query()
	q.Add("loginToken", sess.Token)
	redirect.RawQuery = q.Encode()

	c.Redirect(http.StatusFound, redirect.String())
}

// Logout drops the session and the stored OAuth tokens.
// POST /_matrix/client/v3/logout
func (h *APIHandlers) Logout(c *gin.Context) {
	sess, _ := currentSession(c)
	h.sessions.Clear()

	if err := h.oauth.Forget(c.Request.Context(), h.cfg.OAuth.Provider); err != nil {
		h.log.Warn().Err(err).Msg("failed to forget oauth session")
	}

	h.log.Info().Str("user_id", sess.DID).Msg("user logged out")
	c.JSON(http.StatusOK, gin.H{})
}
