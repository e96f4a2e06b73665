package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/auth"
	"github.com/vovakirdan/matrix-shim/internal/metrics"
	"github.com/vovakirdan/matrix-shim/internal/session"
	"github.com/vovakirdan/matrix-shim/internal/utils"
)

const (
	// ContextKeySession is the context key for the authenticated session.Session.
	ContextKeySession = "session"
	// ContextKeyDeviceID is the context key for the device id carried by the access token.
	ContextKeyDeviceID = "device_id"

	requestIDHeader = "X-Request-ID"
)

// AuthGate rejects requests while no session is established. When
// requireToken is set it also demands an access token minted for the
// current session.
func AuthGate(sessions *session.State, authService *auth.Service, requireToken bool, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := sessions.Current()
		if !ok {
			logger.Debug().Str("path", c.Request.URL.Path).Msg("no session")
			abortSoftLogout(c)
			return
		}

		if requireToken {
			var claims *auth.Claims
			var err error
			sess, claims, err = authService.Authenticate(accessToken(c))
			if err != nil {
				logger.Debug().Err(err).Msg("rejected access token")
				abortSoftLogout(c)
				return
			}
			c.Set(ContextKeyDeviceID, claims.DeviceID)
		}

		c.Set(ContextKeySession, sess)
		c.Next()
	}
}

// accessToken extracts the bearer token from the Authorization header or
// the access_token query parameter.
func accessToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("access_token")
}

// currentSession returns the session AuthGate stored on the context.
func currentSession(c *gin.Context) (session.Session, bool) {
	v, ok := c.Get(ContextKeySession)
	if !ok {
		return session.Session{}, false
	}
	sess, ok := v.(session.Session)
	return sess, ok
}

// LoggerMiddleware creates a middleware that logs HTTP requests, tagging
// each with the caller's X-Request-ID or a generated one.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = utils.NewID()
		}
		c.Header(requestIDHeader, requestID)

		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

// MetricsMiddleware records request counts and durations per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, route,
		).Observe(time.Since(start).Seconds())
	}
}
