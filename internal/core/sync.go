package core

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// WakeReason records how a sync request stopped waiting.
type WakeReason string

const (
	// WakeNone means the request never blocked.
	WakeNone WakeReason = "immediate"
	// WakeNotified means a change notification ended the wait.
	WakeNotified WakeReason = "notified"
	// WakeTimeout means the long-poll timer fired first.
	WakeTimeout WakeReason = "timeout"
	// WakeCancelled means the caller went away while waiting.
	WakeCancelled WakeReason = "cancelled"
)

// SyncRequest carries the parsed sync parameters.
type SyncRequest struct {
	// Since is the next_batch token of the previous response; empty for an initial sync.
	Since string
	// Timeout bounds how long the request may block. Zero never blocks.
	Timeout time.Duration
	// Waiting, when set, is called with true before the request blocks and
	// with false once the wait ends.
	Waiting func(blocking bool)
}

// SyncResult is the transport-neutral sync response.
type SyncResult struct {
	NextBatch string
	Rooms     []RoomSnapshot
	Woken     WakeReason
}

// Syncer implements incremental sync with optional long-polling.
type Syncer struct {
	rooms   *RoomStore
	changes *Notifier
}

// NewSyncer builds a syncer over the store and the notifier the store signals.
func NewSyncer(rooms *RoomStore, changes *Notifier) *Syncer {
	return &Syncer{rooms: rooms, changes: changes}
}

// Sync returns the room data newer than req.Since, blocking up to req.Timeout
// when nothing new exists yet. It returns ctx.Err() if the context ends first.
func (s *Syncer) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if req.Since == "" {
		rooms, cursor := s.rooms.Snapshot(nil)
		return &SyncResult{NextBatch: FormatCursor(cursor), Rooms: rooms, Woken: WakeNone}, nil
	}

	since, err := ParseCursor(req.Since)
	if err != nil {
		return nil, err
	}

	// Register before checking so an append between the check and the
	// select still closes our channel.
	wake := s.changes.Wait()

	woken := WakeNone
	if req.Timeout > 0 && !s.rooms.HasTimelineSince(since) {
		if req.Waiting != nil {
			req.Waiting(true)
		}
		woken = s.wait(ctx, wake, req.Timeout)
		if req.Waiting != nil {
			req.Waiting(false)
		}
		if woken == WakeCancelled {
			return nil, ctx.Err()
		}
	}

	rooms, cursor := s.rooms.Snapshot(&since)
	return &SyncResult{NextBatch: FormatCursor(cursor), Rooms: rooms, Woken: woken}, nil
}

func (s *Syncer) wait(ctx context.Context, wake <-chan struct{}, timeout time.Duration) WakeReason {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wake:
		return WakeNotified
	case <-timer.C:
		return WakeTimeout
	case <-ctx.Done():
		return WakeCancelled
	}
}

// FormatCursor encodes a millisecond timestamp as a since token.
func FormatCursor(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

// ParseCursor decodes a since token produced by FormatCursor.
func ParseCursor(token string) (int64, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil || ts < 0 {
		return 0, coreError(ErrCodeInvalidCursor, "since must be a token returned by a previous sync", ErrInvalidCursor)
	}
	return ts, nil
}
