package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/matrix-shim/internal/auth"
	"github.com/vovakirdan/matrix-shim/internal/core"
	"github.com/vovakirdan/matrix-shim/internal/directory"
	"github.com/vovakirdan/matrix-shim/internal/oauth"
	"github.com/vovakirdan/matrix-shim/internal/proto"
)

const softLogoutMessage = "AtProto session expired"

// writeError writes a Matrix error body.
func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, proto.Error{Code: code, Message: msg})
}

// abortSoftLogout rejects the request as unauthenticated and asks the client
// to log in again without dropping its local state.
func abortSoftLogout(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, proto.Error{
		Code:       proto.ErrCodeUnknownToken,
		Message:    softLogoutMessage,
		SoftLogout: true,
	})
}

// writeErr maps a domain error to its Matrix status and error code.
func writeErr(c *gin.Context, err error) {
	status, code, msg := classify(err)
	writeError(c, status, code, msg)
}

func classify(err error) (int, string, string) {
	var coreErr *core.CoreError
	if errors.As(err, &coreErr) {
		switch coreErr.Code {
		case core.ErrCodeRoomNotFound:
			return http.StatusNotFound, proto.ErrCodeNotFound, coreErr.Message
		case core.ErrCodeInvalidCursor, core.ErrCodeBadRequest:
			return http.StatusBadRequest, proto.ErrCodeInvalidParam, coreErr.Message
		}
	}

	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		return http.StatusNotFound, proto.ErrCodeNotFound, "room not found"
	case errors.Is(err, auth.ErrUnsupportedLoginType):
		return http.StatusBadRequest, proto.ErrCodeUnknown, err.Error()
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrInvalidLoginToken):
		return http.StatusForbidden, proto.ErrCodeForbidden, "invalid login token"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, proto.ErrCodeUnknownToken, softLogoutMessage
	case errors.Is(err, oauth.ErrDenied):
		return http.StatusForbidden, proto.ErrCodeForbidden, err.Error()
	case errors.Is(err, oauth.ErrUnknownState):
		return http.StatusBadRequest, proto.ErrCodeInvalidParam, "unknown or expired login attempt"
	case errors.Is(err, oauth.ErrExchange),
		errors.Is(err, directory.ErrUpstream),
		errors.Is(err, directory.ErrUnsupportedDID):
		return http.StatusBadGateway, proto.ErrCodeUnknown, err.Error()
	default:
		return http.StatusInternalServerError, proto.ErrCodeUnknown, "internal server error"
	}
}
