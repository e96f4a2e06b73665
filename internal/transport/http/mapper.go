package http

import (
	"github.com/vovakirdan/matrix-shim/internal/core"
	"github.com/vovakirdan/matrix-shim/internal/proto"
)

// initialPrevBatch is the prev_batch reported for every timeline; the shim
// keeps no history behind the earliest event.
const initialPrevBatch = "0"

func eventToProto(ev core.Event, withRoomID bool) proto.Event {
	out := proto.Event{
		EventID:        ev.ID,
		Type:           ev.Type,
		Sender:         ev.Sender,
		OriginServerTS: ev.Timestamp,
		Content:        ev.Content,
		StateKey:       ev.StateKey,
	}
	if out.Content == nil {
		out.Content = map[string]any{}
	}
	if withRoomID {
		out.RoomID = ev.RoomID
	}
	return out
}

func eventsToProto(events []core.Event, withRoomID bool) []proto.Event {
	out := make([]proto.Event, 0, len(events))
	for _, ev := range events {
		out = append(out, eventToProto(ev, withRoomID))
	}
	return out
}

func emptyEventList() proto.EventList {
	return proto.EventList{Events: []proto.Event{}}
}

func syncResultToProto(res *core.SyncResult) proto.SyncResponse {
	join := make(map[string]proto.JoinedRoom, len(res.Rooms))
	for _, room := range res.Rooms {
		join[room.ID] = proto.JoinedRoom{
			Ephemeral:   emptyEventList(),
			AccountData: emptyEventList(),
			State:       proto.EventList{Events: eventsToProto(room.State, false)},
			Timeline: proto.Timeline{
				Events:    eventsToProto(room.Timeline, false),
				PrevBatch: initialPrevBatch,
			},
			Summary: proto.RoomSummary{Heroes: []string{}},
		}
	}

	return proto.SyncResponse{
		NextBatch: res.NextBatch,
		Rooms: proto.Rooms{
			Invite: map[string]any{},
			Knock:  map[string]any{},
			Leave:  map[string]any{},
			Join:   join,
		},
	}
}
