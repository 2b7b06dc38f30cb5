package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/hub"
	"github.com/dxpcore/dxp-chat/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Feed selects what a session streams to its client.
type Feed int

const (
	RoomFeed Feed = iota
	RoomsListFeed
	UnreadFeed
)

func (f Feed) String() string {
	switch f {
	case RoomFeed:
		return "room"
	case RoomsListFeed:
		return "chatrooms"
	case UnreadFeed:
		return "unread"
	}
	return "unknown"
}

// Target is the feed a session was opened for. Room is set for RoomFeed only.
type Target struct {
	Feed Feed
	Room *database.Room
}

// Session is one live connection bound to a resolved user.
type Session struct {
	id     string
	cs     *ChatServer
	conn   *websocket.Conn
	log    hclog.Logger
	user   types.User
	target Target
	send   chan *hub.Event
	groups []hub.Group

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSession(ctx context.Context, cs *ChatServer, conn *websocket.Conn, user types.User, target Target) *Session {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		cs:     cs,
		conn:   conn,
		user:   user,
		target: target,
		send:   make(chan *hub.Event, cs.opts.SendQueueSize),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	args := []any{"session", id, "user", user.Id, "feed", target.Feed.String()}
	if target.Room != nil {
		args = append(args, "room", target.Room.Id)
	}
	s.log = cs.log.With(args...)
	return s
}

// Deliver queues ev without blocking. A session whose queue is full is
// closed so its client reconnects and resyncs from the store.
func (s *Session) Deliver(ev *hub.Event) bool {
	if s.ctx.Err() != nil {
		return false
	}

	select {
	case s.send <- ev:
		return true
	default:
		s.log.Warn("outbound queue full, closing session")
		s.cancel()
		return false
	}
}

func (s *Session) roomId() int {
	if s.target.Room == nil {
		return 0
	}
	return s.target.Room.Id
}

// run drives the session until the connection closes or the session is
// cancelled. Group cleanup runs exactly once on exit.
func (s *Session) run() {
	defer s.cleanup()

	if err := s.start(); err != nil {
		s.log.Error("session setup failed", "error", err)
		return
	}
	s.log.Info("session active")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump()
	}()

	s.readPump()
	s.cancel()
	<-done
}

func (s *Session) join(g hub.Group) {
	s.cs.fabric.Join(g, s)
	s.groups = append(s.groups, g)
}

// start joins the session's groups and sends its initial payload. It runs
// before the write pump, so it may write to the connection directly; events
// fanned out meanwhile wait in the send queue.
func (s *Session) start() error {
	ctx := s.ctx
	ctrl := s.cs.ctrl

	switch s.target.Feed {
	case RoomFeed:
		room := s.target.Room
		s.join(hub.Room(room.Id))
		s.join(hub.User(s.user.Id))

		history, err := ctrl.History(ctx, room.Id)
		if err != nil {
			return err
		}
		if err := s.writeFrame(NewHistoryFrame(history)); err != nil {
			return err
		}

		marked, err := s.cs.unread.MarkAllRead(ctx, room.Id, s.user.Id)
		if err != nil {
			return err
		}
		s.log.Debug("marked messages read", "count", marked)
		s.cs.unread.NotifyMembers(ctx, *room)

	case RoomsListFeed:
		s.join(hub.RoomsList())
		s.join(hub.Unread(s.user.Id))
		frame, err := s.roomsListFrame(ctx)
		if err != nil {
			return err
		}
		return s.writeFrame(frame)

	case UnreadFeed:
		s.join(hub.Unread(s.user.Id))
		frame, err := s.unreadFrame(ctx)
		if err != nil {
			return err
		}
		return s.writeFrame(frame)
	}
	return nil
}

func (s *Session) roomsListFrame(ctx context.Context) (*RoomsListFrame, error) {
	rooms, err := s.cs.ctrl.RoomList(ctx, s.user)
	if err != nil {
		return nil, err
	}
	return NewRoomsListFrame(rooms), nil
}

func (s *Session) unreadFrame(ctx context.Context) (*UnreadCountFrame, error) {
	n, err := s.cs.unread.Total(ctx, s.user.Id)
	if err != nil {
		return nil, err
	}
	return NewUnreadCountFrame(n), nil
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Warn("read failed", "error", err)
			}
			return
		}

		s.log.Debug("received frame", "size", len(raw))
		if err := s.handleFrame(raw); err != nil {
			s.reportError(err)
		}
	}
}

func (s *Session) handleFrame(raw []byte) error {
	f, err := DecodeClientFrame(raw)
	if err != nil {
		return err
	}

	switch s.target.Feed {
	case RoomFeed:
		return s.cs.ctrl.HandleRoomFrame(s.ctx, s.user, s.roomId(), f, s)
	case RoomsListFeed:
		if f.Type == FrameRefresh {
			s.Deliver(&hub.Event{Kind: hub.EventRoomsChanged})
			return nil
		}
	case UnreadFeed:
		if f.Type == FrameRefresh {
			s.Deliver(&hub.Event{Kind: hub.EventUnreadChanged})
			return nil
		}
	}
	return ErrMalformedFrame
}

// reportError logs a rejected frame and, when enabled, tells the client.
func (s *Session) reportError(err error) {
	switch {
	case errors.Is(err, ErrMalformedFrame), errors.Is(err, ErrEmptyMessage):
		s.log.Debug("dropping frame", "error", err)
	case errors.Is(err, ErrRoomNotFound):
		s.log.Warn("dropping send to missing room", "error", err)
	default:
		s.log.Error("frame failed", "error", err)
	}

	if s.cs.opts.ReportFrameErrors {
		s.Deliver(&hub.Event{Kind: hub.EventError, Error: err.Error()})
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev := <-s.send:
			frame, err := s.render(ev)
			if err != nil {
				s.log.Error("failed to render event", "kind", ev.Kind, "error", err)
				continue
			}
			if frame == nil {
				continue
			}
			if err := s.writeFrame(frame); err != nil {
				return
			}
		case <-ticker.C:
			if !s.sendMessage(websocket.PingMessage, nil) {
				return
			}
		case <-s.ctx.Done():
			s.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// render turns a fanned-out event into the frame for this session's feed.
// A nil frame means the event does not concern this session.
func (s *Session) render(ev *hub.Event) (any, error) {
	switch ev.Kind {
	case hub.EventChatMessage:
		if s.target.Feed == RoomFeed && ev.Message != nil && ev.RoomId == s.roomId() {
			return ev.Message, nil
		}
	case hub.EventTyping:
		if s.target.Feed == RoomFeed && ev.Typing != nil && ev.RoomId == s.roomId() {
			return &TypingFrame{Typing: ev.Typing.IsTyping, Username: ev.Typing.Username}, nil
		}
	case hub.EventUnreadChanged:
		switch s.target.Feed {
		case UnreadFeed:
			return s.unreadFrame(s.ctx)
		case RoomsListFeed:
			return s.roomsListFrame(s.ctx)
		}
	case hub.EventRoomsChanged:
		if s.target.Feed == RoomsListFeed {
			return s.roomsListFrame(s.ctx)
		}
	case hub.EventError:
		return NewErrorFrame(ev.Error), nil
	}
	return nil, nil
}

func (s *Session) writeFrame(v any) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Warn("write failed", "error", err)
		}
		return err
	}
	return nil
}

func (s *Session) sendMessage(msgType int, data []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Debug("write control frame failed", "error", err)
		}
		return false
	}
	return true
}

func (s *Session) cleanup() {
	s.once.Do(func() {
		s.cancel()
		for _, g := range s.groups {
			s.cs.fabric.Leave(g, s)
		}
		s.groups = nil
		s.conn.Close()
		s.log.Info("session closed")
	})
}

func deadline() time.Time {
	return time.Now().Add(writeWait)
}
