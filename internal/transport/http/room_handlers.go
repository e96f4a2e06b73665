package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/matrix-shim/internal/core"
	"github.com/vovakirdan/matrix-shim/internal/metrics"
	"github.com/vovakirdan/matrix-shim/internal/proto"
)

// RoomHandlers provides HTTP handlers for room endpoints.
type RoomHandlers struct {
	rooms   *core.RoomStore
	limiter *rateLimiter
	log     *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(rooms *core.RoomStore, sendRateLimit int, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms:   rooms,
		limiter: newRateLimiter(sendRateLimit),
		log:     logger,
	}
}

// Members lists membership events.
// GET /_matrix/client/v3/rooms/:roomId/members
func (h *RoomHandlers) Members(c *gin.Context) {
	members, err := h.rooms.ListMembers(c.Param("roomId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, proto.MembersResponse{Chunk: eventsToProto(members, true)})
}

// Messages pages through the timeline. Forward pages return events after
// from; backward pages return events before from, where "0" or no from
// starts at the newest event. end is set whenever more events may follow.
// GET /_matrix/client/v3/rooms/:roomId/messages?dir=b|f&from=&limit=
func (h *RoomHandlers) Messages(c *gin.Context) {
	roomID := c.Param("roomId")
	dir := core.ParseDirection(c.Query("dir"))
	from := c.Query("from")

	var bound int64 = -1
	if from != "" {
		ts, err := core.ParseCursor(from)
		if err != nil {
			writeErr(c, err)
			return
		}
		bound = ts
	}

	var (
		events []core.Event
		err    error
	)
	if dir == core.Backward && bound > 0 {
		events, err = h.rooms.ListTimelineBefore(roomID, bound)
	} else if dir == core.Backward {
		events, err = h.rooms.ListTimelineSince(roomID, -1, core.Backward)
	} else {
		events, err = h.rooms.ListTimelineSince(roomID, bound, core.Forward)
	}
	if err != nil {
		writeErr(c, err)
		return
	}

	truncated := false
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(events) {
		events = events[:limit]
		truncated = true
	}

	start := from
	if start == "" {
		start = initialPrevBatch
	}
	resp := proto.MessagesResponse{Chunk: eventsToProto(events, true), Start: start}
	if len(events) > 0 && (truncated || dir == core.Forward) {
		resp.End = core.FormatCursor(events[len(events)-1].Timestamp)
	}
	c.JSON(http.StatusOK, resp)
}

// State returns every state event of the room.
// GET /_matrix/client/v3/rooms/:roomId/state
func (h *RoomHandlers) State(c *gin.Context) {
	state, err := h.rooms.State(c.Param("roomId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, eventsToProto(state, true))
}

// Typing accepts and discards typing notifications.
// PUT /_matrix/client/v3/rooms/:roomId/typing/:userId
func (h *RoomHandlers) Typing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

// Send appends a timeline event. Transaction ids are not deduplicated.
// PUT /_matrix/client/v3/rooms/:roomId/send/:eventType/:txnId
func (h *RoomHandlers) Send(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		abortSoftLogout(c)
		return
	}

	if allowed, retry := h.limiter.allow(); !allowed {
		c.JSON(http.StatusTooManyRequests, proto.Error{
			Code:         proto.ErrCodeLimitExceeded,
			Message:      "too many messages",
			RetryAfterMS: retry.Milliseconds(),
		})
		return
	}

	var content map[string]any
	if err := c.ShouldBindJSON(&content); err != nil || content == nil {
		writeError(c, http.StatusBadRequest, proto.ErrCodeNotJSON, "content must be a JSON object")
		return
	}

	roomID := c.Param("roomId")
	eventID, err := h.rooms.AppendTimelineEvent(roomID, c.Param("eventType"), content, sess.DID)
	if err != nil {
		writeErr(c, err)
		return
	}
	metrics.EventsAppended.WithLabelValues("timeline").Inc()

	h.log.Debug().Str("room_id", roomID).Str("event_id", eventID).Str("txn_id", c.Param("txnId")).Msg("event sent")
	c.JSON(http.StatusOK, proto.SendEventResponse{EventID: eventID})
}

// PutState stores a state event.
// PUT /_matrix/client/v3/rooms/:roomId/state/:eventType[/:stateKey]
func (h *RoomHandlers) PutState(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		abortSoftLogout(c)
		return
	}

	var content map[string]any
	if err := c.ShouldBindJSON(&content); err != nil || content == nil {
		writeError(c, http.StatusBadRequest, proto.ErrCodeNotJSON, "content must be a JSON object")
		return
	}

	roomID := c.Param("roomId")
	eventID, err := h.rooms.PutStateEvent(roomID, c.Param("eventType"), c.Param("stateKey"), content, sess.DID)
	if err != nil {
		writeErr(c, err)
		return
	}
	metrics.EventsAppended.WithLabelValues("state").Inc()

	h.log.Debug().Str("room_id", roomID).Str("event_id", eventID).Str("type", c.Param("eventType")).Msg("state event stored")
	c.JSON(http.StatusOK, proto.SendEventResponse{EventID: eventID})
}
