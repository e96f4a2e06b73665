package core

import (
	"testing"
	"time"
)

const testRoomID = "!room:test"

// fixedClock returns a clock that always reports the same instant.
func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestStore(t *testing.T) (*RoomStore, *Notifier) {
	t.Helper()

	changes := NewNotifier()
	rooms := NewRoomStore(changes)
	if err := rooms.CreateRoom(testRoomID); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return rooms, changes
}

func mustAppend(t *testing.T, rooms *RoomStore, body string) string {
	t.Helper()

	id, err := rooms.AppendTimelineEvent(testRoomID, EventTypeMessage, map[string]any{"msgtype": "m.text", "body": body}, "did:plc:alice")
	if err != nil {
		t.Fatalf("append %q: %v", body, err)
	}
	return id
}

func mustClosed(t *testing.T, ch <-chan struct{}, within time.Duration) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("channel not closed within %s", within)
	}
}

func mustOpen(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
		t.Fatalf("channel closed unexpectedly")
	default:
	}
}
