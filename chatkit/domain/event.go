package domain

import "encoding/json"

// ChatEvent is the generic envelope read off every service stream.
type ChatEvent struct {
	EventName string          `json:"event_name"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// CurrentUser is the snapshot delivered once the core stream has sent its
// initial state.
type CurrentUser struct {
	User  *User
	Rooms []*Room
}

// Core stream events.
const (
	EventInitialState    = "initial_state"
	EventAddedToRoom     = "added_to_room"
	EventRemovedFromRoom = "removed_from_room"
	EventRoomUpdated     = "room_updated"
	EventRoomDeleted     = "room_deleted"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventUserUpdated     = "user_updated"
)

// Presence stream events.
const (
	EventPresenceUpdate         = "presence_update"
	EventJoinRoomPresenceUpdate = "join_room_presence_update"
)

// Cursors stream events.
const (
	EventNewCursor = "new_cursor"
)
