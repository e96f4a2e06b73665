package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/proto"
	"github.com/vovakirdan/matrix-shim/internal/session"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	resolver session.HandleResolver
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(resolver session.HandleResolver, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		resolver: resolver,
		log:      logger,
	}
}

// WhoAmI reports the identity behind the request.
// GET /_matrix/client/v3/account/whoami
func (h *UserHandlers) WhoAmI(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		abortSoftLogout(c)
		return
	}
	c.JSON(http.StatusOK, proto.WhoAmIResponse{
		UserID:   sess.DID,
		DeviceID: c.GetString(ContextKeyDeviceID),
	})
}

// Profile returns the display name, which is the user's handle.
// GET /_matrix/client/v3/profile/:userId[/displayname]
func (h *UserHandlers) Profile(c *gin.Context) {
	userID := c.Param("userId")
	handle, err := h.resolver.ResolveHandle(c.Request.Context(), userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proto.ProfileResponse{DisplayName: handle})
}
