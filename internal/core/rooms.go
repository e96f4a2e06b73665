package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomSnapshot is a consistent copy of one room as seen by a sync.
type RoomSnapshot struct {
	ID       string
	State    []Event
	Timeline []Event
}

// RoomStore owns every room in the process. All reads and writes go through
// one lock, so a sync never observes a half-applied append.
//
// Timestamps are assigned from a single store-wide clock: each assigned
// timestamp is strictly greater than every earlier timestamp and every
// cursor handed out by Snapshot.
type RoomStore struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	order   []string
	lastTS  int64
	changes *Notifier
	now     func() time.Time
}

// NewRoomStore creates an empty store. changes may be nil when nobody waits
// for updates.
func NewRoomStore(changes *Notifier) *RoomStore {
	return &RoomStore{
		rooms:   make(map[string]*Room),
		changes: changes,
		now:     time.Now,
	}
}

// CreateRoom registers an empty room.
func (s *RoomStore) CreateRoom(roomID string) error {
	if roomID == "" {
		return coreError(ErrCodeBadRequest, "room id is required", ErrBadRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[roomID]; exists {
		return fmt.Errorf("create room %s: %w", roomID, ErrRoomExists)
	}
	s.rooms[roomID] = NewRoom(roomID)
	s.order = append(s.order, roomID)
	return nil
}

// AppendTimelineEvent stamps and appends a timeline event and returns its id.
func (s *RoomStore) AppendTimelineEvent(roomID, eventType string, content map[string]any, sender string) (string, error) {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return "", roomNotFound(roomID)
	}
	ev := s.newEventLocked(roomID, eventType, content, sender, nil)
	room.appendTimeline(ev)
	s.mu.Unlock()

	s.notify()
	return ev.ID, nil
}

// PutStateEvent stores a state event, replacing the previous event with the
// same type and state key.
func (s *RoomStore) PutStateEvent(roomID, eventType, stateKey string, content map[string]any, sender string) (string, error) {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return "", roomNotFound(roomID)
	}
	key := stateKey
	ev := s.newEventLocked(roomID, eventType, content, sender, &key)
	room.putState(ev)
	s.mu.Unlock()

	s.notify()
	return ev.ID, nil
}

// ListMembers returns the room's membership events in insertion order.
func (s *RoomStore) ListMembers(roomID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, roomNotFound(roomID)
	}
	return room.members(), nil
}

// State returns every state event of the room in insertion order.
func (s *RoomStore) State(roomID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, roomNotFound(roomID)
	}
	return room.stateEvents(), nil
}

// ListTimelineSince returns timeline events with a timestamp strictly greater than since.
func (s *RoomStore) ListTimelineSince(roomID string, since int64, dir Direction) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, roomNotFound(roomID)
	}
	return room.timelineSince(since, dir), nil
}

// ListTimelineBefore returns timeline events with a timestamp strictly less
// than before, newest first.
func (s *RoomStore) ListTimelineBefore(roomID string, before int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, roomNotFound(roomID)
	}
	return room.timelineBefore(before), nil
}

// HasTimelineSince reports whether any room has a timeline event newer than since.
func (s *RoomStore) HasTimelineSince(since int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if s.rooms[id].hasTimelineSince(since) {
			return true
		}
	}
	return false
}

// Snapshot copies every room and returns a cursor for the next sync.
// A nil since returns full timelines. Events appended after the snapshot
// are always stamped above the returned cursor.
func (s *RoomStore) Snapshot(since *int64) ([]RoomSnapshot, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var from int64 = -1
	if since != nil {
		from = *since
	}

	rooms := make([]RoomSnapshot, 0, len(s.order))
	for _, id := range s.order {
		room := s.rooms[id]
		rooms = append(rooms, RoomSnapshot{
			ID:       id,
			State:    room.stateEvents(),
			Timeline: room.timelineSince(from, Forward),
		})
	}

	cursor := s.now().UnixMilli()
	if cursor < s.lastTS {
		cursor = s.lastTS
	}
	s.lastTS = cursor
	return rooms, cursor
}

func (s *RoomStore) newEventLocked(roomID, eventType string, content map[string]any, sender string, key *string) Event {
	return Event{
		ID:        "$" + uuid.NewString(),
		Type:      eventType,
		Content:   cloneContent(content),
		Sender:    sender,
		RoomID:    roomID,
		Timestamp: s.nextTimestampLocked(),
		StateKey:  key,
	}
}

// nextTimestampLocked clamps the wall clock so timestamps never repeat or go back.
func (s *RoomStore) nextTimestampLocked() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

func (s *RoomStore) notify() {
	if s.changes != nil {
		s.changes.Notify()
	}
}

func roomNotFound(roomID string) error {
	return coreError(ErrCodeRoomNotFound, fmt.Sprintf("room %s not found", roomID), ErrRoomNotFound)
}
