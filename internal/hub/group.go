package hub

import (
	"fmt"
	"strconv"
	"strings"
)

type GroupKind uint8

const (
	// RoomGroup carries messages and typing indicators for one room.
	RoomGroup GroupKind = iota + 1
	// UserGroup carries messages addressed to a single user.
	UserGroup
	// UnreadGroup carries unread-count invalidations for a single user.
	UnreadGroup
	// RoomsListGroup is the global "chatrooms changed" channel.
	RoomsListGroup
)

const roomsListName = "chatrooms:changed"

var kindPrefixes = map[GroupKind]string{
	RoomGroup:   "room",
	UserGroup:   "user",
	UnreadGroup: "unread",
}

// Group identifies a fan-out channel. The zero value is not a valid group.
type Group struct {
	Kind GroupKind
	Id   int
}

func Room(roomId int) Group {
	return Group{Kind: RoomGroup, Id: roomId}
}

func User(userId int) Group {
	return Group{Kind: UserGroup, Id: userId}
}

func Unread(userId int) Group {
	return Group{Kind: UnreadGroup, Id: userId}
}

func RoomsList() Group {
	return Group{Kind: RoomsListGroup}
}

func (g Group) String() string {
	if g.Kind == RoomsListGroup {
		return roomsListName
	}

	prefix, ok := kindPrefixes[g.Kind]
	if !ok {
		return fmt.Sprintf("invalid:%d", g.Id)
	}

	return prefix + ":" + strconv.Itoa(g.Id)
}

// ParseGroup is the inverse of Group.String.
func ParseGroup(name string) (Group, error) {
	if name == roomsListName {
		return RoomsList(), nil
	}

	prefix, rawId, ok := strings.Cut(name, ":")
	if !ok {
		return Group{}, fmt.Errorf("invalid group name %q", name)
	}

	id, err := strconv.Atoi(rawId)
	if err != nil {
		return Group{}, fmt.Errorf("invalid group id in %q: %w", name, err)
	}

	for kind, p := range kindPrefixes {
		if p == prefix {
			return Group{Kind: kind, Id: id}, nil
		}
	}

	return Group{}, fmt.Errorf("unknown group kind %q", prefix)
}
