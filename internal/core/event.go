package core

// Well-known event types used by the shim.
const (
	EventTypeCreate  = "m.room.create"
	EventTypeMember  = "m.room.member"
	EventTypeName    = "m.room.name"
	EventTypeMessage = "m.room.message"
)

// Direction selects the order of timeline listings.
type Direction int

const (
	// Forward lists events oldest first.
	Forward Direction = iota
	// Backward lists events newest first.
	Backward
)

// ParseDirection maps the protocol's "f"/"b" flag to a Direction.
// Anything other than "b" is treated as forward.
func ParseDirection(dir string) Direction {
	if dir == "b" {
		return Backward
	}
	return Forward
}

// Event is a room event. Events are never modified after the store accepts them.
type Event struct {
	ID        string
	Type      string
	Content   map[string]any
	Sender    string
	RoomID    string
	Timestamp int64   // milliseconds since epoch, assigned by the store
	StateKey  *string // nil for timeline events
}

// IsState reports whether the event replaces room state rather than extending the timeline.
func (e Event) IsState() bool {
	return e.StateKey != nil
}

// StateKeyValue returns the state key or "" for timeline events.
func (e Event) StateKeyValue() string {
	if e.StateKey == nil {
		return ""
	}
	return *e.StateKey
}

// cloneContent deep-copies the nested maps and slices a JSON body decodes to.
// Other values are shared.
func cloneContent(content map[string]any) map[string]any {
	out := make(map[string]any, len(content))
	for k, v := range content {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneContent(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
