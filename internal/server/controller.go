package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/hub"
	"github.com/dxpcore/dxp-chat/internal/stats"
	"github.com/dxpcore/dxp-chat/internal/types"
	"github.com/hashicorp/go-hclog"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrEmptyMessage   = errors.New("empty message")
)

// Controller holds the chat logic behind inbound room frames.
type Controller struct {
	log          hclog.Logger
	db           database.ChatRepository
	fabric       hub.Fabric
	unread       *UnreadCounter
	stats        stats.StatsProvider
	historyLimit int
}

func NewController(logger hclog.Logger, db database.ChatRepository, fabric hub.Fabric, unread *UnreadCounter, su stats.StatsProvider, historyLimit int) *Controller {
	return &Controller{
		log:          logger,
		db:           db,
		fabric:       fabric,
		unread:       unread,
		stats:        su,
		historyLimit: historyLimit,
	}
}

// HandleRoomFrame dispatches a frame received on a room feed. skip is the
// sending session, which does not get its own message echoed back.
func (c *Controller) HandleRoomFrame(ctx context.Context, user types.User, roomId int, f ClientFrame, skip hub.Subscriber) error {
	switch f.Type {
	case FrameTyping:
		c.Typing(ctx, user, roomId, true)
		return nil
	case FrameStopTyping:
		c.Typing(ctx, user, roomId, false)
		return nil
	case "":
		_, err := c.SendMessage(ctx, user, roomId, f.Message, int(f.Recipient), skip)
		return err
	default:
		return fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, f.Type)
	}
}

// Typing broadcasts an ephemeral indicator to the room group.
func (c *Controller) Typing(ctx context.Context, user types.User, roomId int, isTyping bool) {
	c.fabric.Broadcast(ctx, hub.Room(roomId), &hub.Event{
		Kind:   hub.EventTyping,
		RoomId: roomId,
		Typing: &types.Typing{
			RoomId:   roomId,
			UserId:   user.Id,
			Username: user.Username(),
			IsTyping: isTyping,
		},
	}, nil)
}

// SendMessage persists a message and then fans it out. With a recipient the
// message goes to that user's group only, otherwise to the room group. The
// rooms list and the unread groups of every member are invalidated in both
// cases. Nothing is broadcast unless the message was stored.
func (c *Controller) SendMessage(ctx context.Context, sender types.User, roomId int, text string, recipient int, skip hub.Subscriber) (*types.ChatMessage, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	room, err := c.db.GetRoomById(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}

	stored, err := c.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:   room.Id,
		SenderId: sender.Id,
		Content:  text,
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	msg := &types.ChatMessage{
		Id:        stored.Id,
		RoomId:    room.Id,
		SenderId:  sender.Id,
		Username:  sender.Username(),
		Email:     sender.Email,
		Name:      sender.Name,
		Message:   stored.Content,
		Timestamp: stored.CreatedAt,
	}
	ev := &hub.Event{Kind: hub.EventChatMessage, RoomId: room.Id, Message: msg}

	target := hub.Room(room.Id)
	if recipient > 0 {
		target = hub.User(recipient)
	}
	n := c.fabric.Broadcast(ctx, target, ev, skip)
	c.log.Debug("message delivered", "room", room.Id, "message", msg.Id, "group", target, "sessions", n)

	c.fabric.Broadcast(ctx, hub.RoomsList(), &hub.Event{Kind: hub.EventRoomsChanged, RoomId: room.Id}, nil)
	c.unread.NotifyMembers(ctx, room)
	c.stats.Incr(stats.MessagesSent)

	return msg, nil
}

// History returns the room's messages oldest first, limited to the most
// recent historyLimit messages when that is positive.
func (c *Controller) History(ctx context.Context, roomId int) ([]types.ChatMessage, error) {
	rows, err := c.db.GetMessages(ctx, roomId, c.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]types.ChatMessage, 0, len(rows))
	for _, m := range rows {
		messages = append(messages, chatMessage(m))
	}
	return messages, nil
}

func chatMessage(m database.MessageWithSender) types.ChatMessage {
	return types.ChatMessage{
		Id:        m.Id,
		RoomId:    m.RoomId,
		SenderId:  m.SenderId,
		Username:  m.SenderEmail,
		Email:     m.SenderEmail,
		Name:      m.SenderName,
		Message:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

// RoomList summarizes every room the user belongs to.
func (c *Controller) RoomList(ctx context.Context, user types.User) ([]types.RoomSummary, error) {
	rooms, err := c.db.ListRoomsForUser(ctx, user.Id)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	summaries := make([]types.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		s := types.RoomSummary{
			Id:        r.Id,
			Name:      r.Name,
			IsGroup:   r.IsGroup,
			CreatedAt: r.CreatedAt,
		}

		s.Unread, err = c.unread.CountUnread(ctx, r.Id, user.Id)
		if err != nil {
			return nil, fmt.Errorf("count unread for room %d: %w", r.Id, err)
		}

		if !r.IsGroup {
			if other, ok := otherMember(r, user.Id); ok {
				name := displayName(other.Name, other.Email)
				s.OtherUser = &name
				if other.AvatarURL != "" {
					avatar := other.AvatarURL
					s.OtherUserAvatar = &avatar
				}
			}
		}

		last, err := c.db.GetLastMessage(ctx, r.Id)
		switch {
		case err == nil:
			s.LastMessage = &types.LastMessage{
				Text:      last.Content,
				CreatedAt: last.CreatedAt,
				Sender:    displayName(last.SenderName, last.SenderEmail),
			}
		case !errors.Is(err, database.ErrNotFound):
			return nil, fmt.Errorf("last message for room %d: %w", r.Id, err)
		}

		summaries = append(summaries, s)
	}
	return summaries, nil
}

func otherMember(r database.Room, userId int) (database.User, bool) {
	for _, m := range r.Members {
		if m.Id != userId {
			return m, true
		}
	}
	return database.User{}, false
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}
