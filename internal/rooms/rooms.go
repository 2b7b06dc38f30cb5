// Package rooms creates chat rooms and announces them to connected clients.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/hub"
	"github.com/dxpcore/dxp-chat/internal/server"
	"github.com/hashicorp/go-hclog"
	"github.com/teris-io/shortid"
)

const (
	directRoomPrefix = "dm_"
	maxNameAttempts  = 3
)

var (
	ErrSameUser    = errors.New("cannot open a direct room with yourself")
	ErrInvalidRoom = errors.New("invalid room")
)

type Service struct {
	log             hclog.Logger
	db              database.ChatRepository
	fabric          hub.Fabric
	unread          *server.UnreadCounter
	generateShortId func() (string, error)
}

func NewService(logger hclog.Logger, db database.ChatRepository, fabric hub.Fabric, unread *server.UnreadCounter) *Service {
	return &Service{
		log:             logger,
		db:              db,
		fabric:          fabric,
		unread:          unread,
		generateShortId: shortid.Generate,
	}
}

// CreateDirectRoom returns the direct room between a and b, creating it if
// the pair has none yet. The boolean reports whether a room was created.
func (s *Service) CreateDirectRoom(ctx context.Context, a, b int) (database.Room, bool, error) {
	if a == b {
		return database.Room{}, false, ErrSameUser
	}

	existing, err := s.db.FindDirectRoom(ctx, a, b)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return database.Room{}, false, fmt.Errorf("find direct room: %w", err)
	}

	var room database.Room
	for attempt := 1; ; attempt++ {
		sid, err := s.generateShortId()
		if err != nil {
			return database.Room{}, false, fmt.Errorf("generate room id: %w", err)
		}

		room, err = s.db.CreateRoom(ctx, database.CreateRoomParams{
			Name:      directRoomPrefix + sid,
			MemberIds: []int{a, b},
		})
		if err == nil {
			break
		}
		if !errors.Is(err, database.ErrConflict) || attempt == maxNameAttempts {
			return database.Room{}, false, fmt.Errorf("create direct room: %w", err)
		}
		s.log.Debug("room name taken, retrying", "name", directRoomPrefix+sid)
	}

	s.log.Info("created direct room", "room", room.Id, "name", room.Name)
	s.announce(ctx, room)
	return room, true, nil
}

// CreateGroupRoom creates a named room for one or more members.
func (s *Service) CreateGroupRoom(ctx context.Context, name string, memberIds []int) (database.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return database.Room{}, fmt.Errorf("%w: name is required", ErrInvalidRoom)
	}
	if len(memberIds) == 0 {
		return database.Room{}, fmt.Errorf("%w: a group needs at least one member", ErrInvalidRoom)
	}

	room, err := s.db.CreateRoom(ctx, database.CreateRoomParams{
		Name:      name,
		IsGroup:   true,
		MemberIds: memberIds,
	})
	if err != nil {
		return database.Room{}, fmt.Errorf("create group room: %w", err)
	}

	s.log.Info("created group room", "room", room.Id, "name", room.Name, "members", len(room.Members))
	s.announce(ctx, room)
	return room, nil
}

// announce tells rooms-list clients to refresh and invalidates the unread
// feeds of the new room's members.
func (s *Service) announce(ctx context.Context, room database.Room) {
	s.fabric.Broadcast(ctx, hub.RoomsList(), &hub.Event{Kind: hub.EventRoomsChanged, RoomId: room.Id}, nil)
	s.unread.NotifyMembers(ctx, room)
}
