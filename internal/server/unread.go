package server

import (
	"context"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/hub"
	"github.com/hashicorp/go-hclog"
)

// UnreadCounter derives unread counts from the store and invalidates the
// personal unread groups of room members. Invalidations carry no count; each
// receiving session recomputes its own total.
type UnreadCounter struct {
	log    hclog.Logger
	db     database.ChatRepository
	fabric hub.Fabric
}

func NewUnreadCounter(logger hclog.Logger, db database.ChatRepository, fabric hub.Fabric) *UnreadCounter {
	return &UnreadCounter{log: logger, db: db, fabric: fabric}
}

func (u *UnreadCounter) CountUnread(ctx context.Context, roomId, userId int) (int, error) {
	return u.db.CountUnread(ctx, roomId, userId)
}

func (u *UnreadCounter) MarkAllRead(ctx context.Context, roomId, userId int) (int, error) {
	return u.db.MarkAllRead(ctx, roomId, userId)
}

// Total is the user's unread count summed over every room they belong to.
func (u *UnreadCounter) Total(ctx context.Context, userId int) (int, error) {
	return u.db.CountUnreadForUser(ctx, userId)
}

// NotifyMembers invalidates the unread group of every member of room.
func (u *UnreadCounter) NotifyMembers(ctx context.Context, room database.Room) {
	for _, m := range room.Members {
		u.fabric.Broadcast(ctx, hub.Unread(m.Id), &hub.Event{Kind: hub.EventUnreadChanged, RoomId: room.Id}, nil)
	}
	u.log.Debug("notified room members", "room", room.Id, "members", len(room.Members))
}
