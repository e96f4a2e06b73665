// Package proto holds the Matrix client-server wire types the shim speaks.
package proto

// SupportedVersions lists the client-server API versions advertised on /versions.
var SupportedVersions = []string{"v1.13"}

const (
	LoginTypeSSO   = "m.login.sso"
	LoginTypeToken = "m.login.token"
)

// Event is a room event as serialized to clients.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         string         `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// EventList wraps a slice of events, as used by several sync sections.
type EventList struct {
	Events []Event `json:"events"`
}

// Timeline is the timeline section of a joined room.
type Timeline struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// UnreadNotifications carries notification counters for a room.
type UnreadNotifications struct {
	NotificationCount int `json:"notification_count"`
	HighlightCount    int `json:"highlight_count"`
}

// RoomSummary is the summary section of a joined room.
type RoomSummary struct {
	Heroes []string `json:"m.heroes"`
}

// JoinedRoom holds sync data for a joined room.
type JoinedRoom struct {
	Ephemeral           EventList           `json:"ephemeral"`
	AccountData         EventList           `json:"account_data"`
	State               EventList           `json:"state"`
	Timeline            Timeline            `json:"timeline"`
	UnreadNotifications UnreadNotifications `json:"unread_notifications"`
	Summary             RoomSummary         `json:"summary"`
}

// Rooms groups rooms by membership. Only Join is ever populated.
type Rooms struct {
	Invite map[string]any        `json:"invite"`
	Knock  map[string]any        `json:"knock"`
	Leave  map[string]any        `json:"leave"`
	Join   map[string]JoinedRoom `json:"join"`
}

// SyncResponse is the body of GET /sync.
type SyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     Rooms  `json:"rooms"`
}

// VersionsResponse is the body of GET /versions.
type VersionsResponse struct {
	Versions []string `json:"versions"`
}

// IdentityProvider describes an SSO provider offered to the client.
type IdentityProvider struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Brand string `json:"brand,omitempty"`
}

// LoginFlow is one supported login flow.
type LoginFlow struct {
	Type              string             `json:"type"`
	IdentityProviders []IdentityProvider `json:"identity_providers,omitempty"`
}

// LoginFlowsResponse is the body of GET /login.
type LoginFlowsResponse struct {
	Flows []LoginFlow `json:"flows"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Type                     string `json:"type"`
	Token                    string `json:"token"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
	UserID      string `json:"user_id"`
}

// WhoAmIResponse is returned by GET /account/whoami.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// MembersResponse is returned by GET /rooms/{roomId}/members.
type MembersResponse struct {
	Chunk []Event `json:"chunk"`
}

// MessagesResponse is returned by GET /rooms/{roomId}/messages.
type MessagesResponse struct {
	Chunk []Event `json:"chunk"`
	Start string  `json:"start"`
	End   string  `json:"end,omitempty"`
}

// SendEventResponse is returned when an event is accepted.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// ProfileResponse is returned by GET /profile/{userId}.
type ProfileResponse struct {
	DisplayName string `json:"displayname"`
}
