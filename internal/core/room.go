package core

import "sort"

type stateKey struct {
	eventType string
	stateKey  string
}

// Room holds one room's state and timeline. It is not safe for concurrent
// use on its own; RoomStore serializes access.
type Room struct {
	ID         string
	state      []Event
	stateIndex map[stateKey]int
	timeline   []Event
}

// NewRoom constructs a room with no events.
func NewRoom(id string) *Room {
	return &Room{
		ID:         id,
		stateIndex: make(map[stateKey]int),
	}
}

// putState inserts a state event, replacing any event with the same
// (type, state_key) at its original position.
func (r *Room) putState(ev Event) {
	key := stateKey{eventType: ev.Type, stateKey: ev.StateKeyValue()}
	if idx, exists := r.stateIndex[key]; exists {
		r.state[idx] = ev
		return
	}
	r.stateIndex[key] = len(r.state)
	r.state = append(r.state, ev)
}

func (r *Room) appendTimeline(ev Event) {
	r.timeline = append(r.timeline, ev)
}

// stateEvents returns a copy of the state list in insertion order.
func (r *Room) stateEvents() []Event {
	out := make([]Event, len(r.state))
	copy(out, r.state)
	return out
}

func (r *Room) members() []Event {
	out := make([]Event, 0, len(r.state))
	for _, ev := range r.state {
		if ev.Type == EventTypeMember {
			out = append(out, ev)
		}
	}
	return out
}

// timelineSince returns events with a timestamp strictly greater than since.
// The timeline is sorted by timestamp, so a binary search finds the cut.
func (r *Room) timelineSince(since int64, dir Direction) []Event {
	start := sort.Search(len(r.timeline), func(i int) bool {
		return r.timeline[i].Timestamp > since
	})
	out := make([]Event, len(r.timeline)-start)
	copy(out, r.timeline[start:])
	if dir == Backward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// timelineBefore returns events with a timestamp strictly less than before,
// newest first.
func (r *Room) timelineBefore(before int64) []Event {
	end := sort.Search(len(r.timeline), func(i int) bool {
		return r.timeline[i].Timestamp >= before
	})
	out := make([]Event, end)
	for i := range out {
		out[i] = r.timeline[end-1-i]
	}
	return out
}

func (r *Room) hasTimelineSince(since int64) bool {
	n := len(r.timeline)
	return n > 0 && r.timeline[n-1].Timestamp > since
}
