package database

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// ChatRepository is the message store used by the chat core.
type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, userId int) (User, error)
	CreateAuthToken(ctx context.Context, token AuthToken) error
	GetAuthToken(ctx context.Context, tokenKey string) (AuthToken, error)

	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoomById(ctx context.Context, roomId int) (Room, error)
	GetRoomByName(ctx context.Context, name string) (Room, error)
	FindDirectRoom(ctx context.Context, userA, userB int) (Room, error)
	AddRoomMember(ctx context.Context, roomId, userId int) error
	IsRoomMember(ctx context.Context, roomId, userId int) (bool, error)
	ListRoomMembers(ctx context.Context, roomId int) ([]User, error)
	ListRoomsForUser(ctx context.Context, userId int) ([]Room, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	// GetMessages returns a room's messages oldest first. A positive limit keeps
	// only the most recent limit messages.
	GetMessages(ctx context.Context, roomId, limit int) ([]MessageWithSender, error)
	GetLastMessage(ctx context.Context, roomId int) (MessageWithSender, error)

	// CountUnread counts unread messages in the room sent by active users other
	// than userId. MarkAllRead marks exactly those messages read.
	CountUnread(ctx context.Context, roomId, userId int) (int, error)
	CountUnreadForUser(ctx context.Context, userId int) (int, error)
	MarkAllRead(ctx context.Context, roomId, userId int) (int, error)
}
