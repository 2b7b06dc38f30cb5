package hub

import "github.com/dxpcore/dxp-chat/internal/types"

type EventKind string

const (
	EventChatMessage EventKind = "chat_message"
	EventTyping      EventKind = "typing"
	// EventUnreadChanged and EventRoomsChanged are invalidations; receivers
	// recompute their state from the store.
	EventUnreadChanged EventKind = "unread_changed"
	EventRoomsChanged  EventKind = "rooms_changed"
	// EventError is only ever queued by a session to itself.
	EventError EventKind = "error"
)

type Event struct {
	Kind    EventKind          `json:"kind"`
	RoomId  int                `json:"room_id,omitempty"`
	Message *types.ChatMessage `json:"message,omitempty"`
	Typing  *types.Typing      `json:"typing,omitempty"`
	Error   string             `json:"error,omitempty"`
}
