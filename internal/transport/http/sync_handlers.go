package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/config"
	"github.com/vovakirdan/matrix-shim/internal/core"
	"github.com/vovakirdan/matrix-shim/internal/metrics"
)

// SyncHandlers serves long-poll sync.
type SyncHandlers struct {
	syncer *core.Syncer
	cfg    config.SyncConfig
	log    *zerolog.Logger
}

// NewSyncHandlers creates a new sync handlers instance.
func NewSyncHandlers(syncer *core.Syncer, cfg config.SyncConfig, logger *zerolog.Logger) *SyncHandlers {
	return &SyncHandlers{
		syncer: syncer,
		cfg:    cfg,
		log:    logger,
	}
}

// Sync returns everything newer than since, holding the request open for
// up to timeout milliseconds when nothing is new yet.
// GET /_matrix/client/v3/sync?since=&timeout=
func (h *SyncHandlers) Sync(c *gin.Context) {
	req := core.SyncRequest{
		Since:   c.Query("since"),
		Timeout: h.timeout(c.Query("timeout")),
		Waiting: trackLongPoll,
	}

	res, err := h.syncer.Sync(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The client is gone or the server is shutting down.
			metrics.SyncRequests.WithLabelValues(string(core.WakeCancelled)).Inc()
			c.Abort()
			return
		}
		writeErr(c, err)
		return
	}

	metrics.SyncRequests.WithLabelValues(string(res.Woken)).Inc()
	c.JSON(http.StatusOK, syncResultToProto(res))
}

// timeout parses the timeout query parameter in milliseconds. Absent or
// malformed values use the default; values above the maximum are capped.
func (h *SyncHandlers) timeout(raw string) time.Duration {
	if raw == "" {
		return h.cfg.DefaultTimeout
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return h.cfg.DefaultTimeout
	}
	if ms <= 0 {
		return 0
	}
	if h.cfg.MaxTimeout > 0 && ms > h.cfg.MaxTimeout.Milliseconds() {
		return h.cfg.MaxTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func trackLongPoll(blocking bool) {
	if blocking {
		metrics.ActiveLongPolls.Inc()
		return
	}
	metrics.ActiveLongPolls.Dec()
}
