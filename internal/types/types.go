package types

import (
	"time"
)

// User is the identity resolved from a connection credential. The chat core
// reads users but never mutates them.
type User struct {
	Id        int    `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar,omitempty"`
	IsActive  bool   `json:"is_active"`
	IsStaff   bool   `json:"is_staff"`
}

// Username is the login identifier shown to other clients. Accounts log in
// with their email address.
func (u User) Username() string {
	return u.Email
}

// ChatMessage is a persisted message as delivered to room clients.
type ChatMessage struct {
	Id        int       `json:"id"`
	RoomId    int       `json:"room"`
	SenderId  int       `json:"sender_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Typing is an ephemeral typing indicator for a room.
type Typing struct {
	RoomId   int    `json:"room_id"`
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type LastMessage struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Sender    string    `json:"sender"`
}

// RoomSummary is one entry of a user's room list.
type RoomSummary struct {
	Id              int          `json:"id"`
	Name            string       `json:"name"`
	IsGroup         bool         `json:"is_group"`
	Unread          int          `json:"unread"`
	CreatedAt       time.Time    `json:"created_at"`
	OtherUser       *string      `json:"other_user,omitempty"`
	OtherUserAvatar *string      `json:"other_user_avatar,omitempty"`
	LastMessage     *LastMessage `json:"last_message"`
}
