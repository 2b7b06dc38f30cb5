package server

import (
	"context"
	"errors"
	"sync"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/hub"
	"github.com/dxpcore/dxp-chat/internal/stats"
	"github.com/dxpcore/dxp-chat/internal/types"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

const defaultSendQueueSize = 256

type Options struct {
	// SendQueueSize bounds each session's outbound queue.
	SendQueueSize int
	// HistoryLimit caps the history replayed on connect. Zero replays all.
	HistoryLimit int
	// ReportFrameErrors sends an error frame back for rejected frames
	// instead of dropping them silently.
	ReportFrameErrors bool
}

// ChatServer owns the live sessions and the logic shared between them.
type ChatServer struct {
	log    hclog.Logger
	db     database.ChatRepository
	fabric hub.Fabric
	stats  stats.StatsProvider
	opts   Options
	ctrl   *Controller
	unread *UnreadCounter

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

func NewChatServer(logger hclog.Logger, db database.ChatRepository, fabric hub.Fabric, su stats.StatsProvider, opts Options) *ChatServer {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueueSize
	}

	unread := NewUnreadCounter(logger.Named("unread"), db, fabric)
	return &ChatServer{
		log:      logger,
		db:       db,
		fabric:   fabric,
		stats:    su,
		opts:     opts,
		unread:   unread,
		ctrl:     NewController(logger.Named("controller"), db, fabric, unread, su, opts.HistoryLimit),
		sessions: make(map[*Session]struct{}),
	}
}

func (cs *ChatServer) Controller() *Controller {
	return cs.ctrl
}

func (cs *ChatServer) Unread() *UnreadCounter {
	return cs.unread
}

// Serve runs a session for an upgraded, authenticated connection and blocks
// until it ends. The connection is always closed on return.
func (cs *ChatServer) Serve(ctx context.Context, conn *websocket.Conn, user types.User, target Target) error {
	if target.Feed == RoomFeed && target.Room == nil {
		conn.Close()
		return ErrRoomNotFound
	}

	s := newSession(ctx, cs, conn, user, target)
	if !cs.add(s) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseServiceRestart, ""), deadline())
		conn.Close()
		return ErrShuttingDown
	}
	defer cs.remove(s)

	cs.stats.Incr(stats.NumActiveSessions)
	defer cs.stats.Decr(stats.NumActiveSessions)

	s.run()
	return nil
}

func (cs *ChatServer) add(s *Session) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closing {
		return false
	}
	cs.sessions[s] = struct{}{}
	cs.wg.Add(1)
	return true
}

func (cs *ChatServer) remove(s *Session) {
	cs.mu.Lock()
	delete(cs.sessions, s)
	cs.mu.Unlock()
	cs.wg.Done()
}

// SessionCount returns the number of live sessions.
func (cs *ChatServer) SessionCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.sessions)
}

// Shutdown stops accepting sessions, cancels the live ones and waits for
// their cleanup or for ctx to be done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.mu.Lock()
	cs.closing = true
	for s := range cs.sessions {
		s.cancel()
	}
	n := len(cs.sessions)
	cs.mu.Unlock()

	cs.log.Info("shutting down sessions", "count", n)

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
