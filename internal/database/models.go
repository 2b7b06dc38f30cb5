package database

import "time"

type User struct {
	Id        int
	Name      string
	Email     string
	AvatarURL string
	IsActive  bool
	IsStaff   bool
	CreatedAt time.Time
}

type Room struct {
	Id        int
	Name      string
	IsGroup   bool
	CreatedAt time.Time
	Members   []User
}

type Message struct {
	Id        int
	RoomId    int
	SenderId  int
	Content   string
	IsRead    bool
	CreatedAt time.Time
}

// MessageWithSender is a message joined with its sender's account.
type MessageWithSender struct {
	Message
	SenderName  string
	SenderEmail string
}

// AuthToken is an opaque bearer token. Only a digest of the token is stored;
// TokenKey is the token's prefix and is used for lookup.
type AuthToken struct {
	TokenKey  string
	Digest    string
	UserId    int
	Expiry    time.Time
	CreatedAt time.Time
}

type CreateUserParams struct {
	Name      string
	Email     string
	AvatarURL string
	IsActive  bool
	IsStaff   bool
}

type CreateRoomParams struct {
	Name      string
	IsGroup   bool
	MemberIds []int
}

type CreateMessageParams struct {
	RoomId    int
	SenderId  int
	Content   string
	CreatedAt time.Time
}
