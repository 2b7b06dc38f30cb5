package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/hub"
	"github.com/dxpcore/dxp-chat/internal/stats"
	"github.com/dxpcore/dxp-chat/internal/testutil"
	"github.com/dxpcore/dxp-chat/internal/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	db  *database.BuntChatRepository
	hub *hub.Hub
	cs  *ChatServer
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db, err := database.NewBuntChatRepository(":memory:")
	require.NoError(t, err)

	su := (&stats.MockStatsUpdater{}).AllowAll()
	h := hub.NewHub(testutil.TestLogger(t), su)
	cs := NewChatServer(testutil.TestLogger(t), db, h, su, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx))
		db.Close()
	})
	return &testEnv{db: db, hub: h, cs: cs}
}

func (e *testEnv) user(t *testing.T, name string) types.User {
	t.Helper()
	u, err := e.db.CreateUser(context.Background(), database.CreateUserParams{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		IsActive: true,
	})
	require.NoError(t, err)
	return types.User{Id: u.Id, Name: u.Name, Email: u.Email, IsActive: true}
}

func (e *testEnv) room(t *testing.T, name string, group bool, members ...types.User) *database.Room {
	t.Helper()
	ids := make([]int, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.Id)
	}
	r, err := e.db.CreateRoom(context.Background(), database.CreateRoomParams{Name: name, IsGroup: group, MemberIds: ids})
	require.NoError(t, err)
	return &r
}

func (e *testEnv) connect(t *testing.T, user types.User, target Target) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		e.cs.Serve(r.Context(), conn, user, target)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func readUnread(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, "unread_count", frame["type"])
	return int(frame["count"].(float64))
}

// expectNoFrame must be the last read on conn: a timed out read leaves the
// connection unusable.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, raw, err := conn.ReadMessage()
	var netErr net.Error
	if assert.Error(t, err, "expected no frame, got %s", raw) {
		assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected a read timeout, got %v", err)
	}
}

func TestSession_SendAndReconnect(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, bob := env.user(t, "Alice"), env.user(t, "Bob")
	r1 := env.room(t, "r1", false, alice, bob)

	aUnread := env.connect(t, alice, Target{Feed: UnreadFeed})
	assert.Equal(t, 0, readUnread(t, aUnread))
	bUnread := env.connect(t, bob, Target{Feed: UnreadFeed})
	assert.Equal(t, 0, readUnread(t, bUnread))

	aRoom := env.connect(t, alice, Target{Feed: RoomFeed, Room: r1})
	history := readFrame(t, aRoom)
	assert.Equal(t, "chat_history", history["type"])
	assert.Empty(t, history["messages"])
	// opening a room invalidates every member's unread feed
	assert.Equal(t, 0, readUnread(t, aUnread))
	assert.Equal(t, 0, readUnread(t, bUnread))

	bRoom := env.connect(t, bob, Target{Feed: RoomFeed, Room: r1})
	readFrame(t, bRoom)
	assert.Equal(t, 0, readUnread(t, aUnread))
	assert.Equal(t, 0, readUnread(t, bUnread))

	require.NoError(t, aRoom.WriteJSON(map[string]any{"message": "hi"}))

	got := readFrame(t, bRoom)
	assert.Equal(t, "alice@example.com", got["username"])
	assert.Equal(t, "hi", got["message"])
	assert.Equal(t, float64(r1.Id), got["room"])

	assert.Equal(t, 0, readUnread(t, aUnread), "the sender has nothing unread")
	assert.Equal(t, 1, readUnread(t, bUnread))

	stored, err := env.db.GetMessages(context.Background(), r1.Id, 0)
	require.NoError(t, err)
	if assert.Len(t, stored, 1) {
		assert.Equal(t, alice.Id, stored[0].SenderId)
		assert.False(t, stored[0].IsRead)
	}

	expectNoFrame(t, aRoom)

	// reconnecting replays history and marks it read
	bRoom.Close()
	bRoom = env.connect(t, bob, Target{Feed: RoomFeed, Room: r1})
	history = readFrame(t, bRoom)
	messages := history["messages"].([]any)
	if assert.Len(t, messages, 1) {
		assert.Equal(t, "hi", messages[0].(map[string]any)["message"])
	}
	assert.Equal(t, 0, readUnread(t, bUnread))
	assert.Equal(t, 0, readUnread(t, aUnread))

	n, err := env.db.CountUnread(context.Background(), r1.Id, bob.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSession_Typing(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, bob := env.user(t, "Alice"), env.user(t, "Bob")
	r1 := env.room(t, "r1", false, alice, bob)

	aRoom := env.connect(t, alice, Target{Feed: RoomFeed, Room: r1})
	readFrame(t, aRoom)
	bRoom := env.connect(t, bob, Target{Feed: RoomFeed, Room: r1})
	readFrame(t, bRoom)

	require.NoError(t, aRoom.WriteJSON(map[string]any{"type": "typing"}))
	got := readFrame(t, bRoom)
	assert.Equal(t, true, got["typing"])
	assert.Equal(t, "alice@example.com", got["username"])

	// typing indicators reach the whole room group
	got = readFrame(t, aRoom)
	assert.Equal(t, true, got["typing"])

	require.NoError(t, aRoom.WriteJSON(map[string]any{"type": "stop_typing"}))
	got = readFrame(t, bRoom)
	assert.Equal(t, false, got["typing"])
}

func TestSession_DirectedMessage(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, bob, carol := env.user(t, "Alice"), env.user(t, "Bob"), env.user(t, "Carol")
	group := env.room(t, "trip", true, alice, bob, carol)

	aRoom := env.connect(t, alice, Target{Feed: RoomFeed, Room: group})
	readFrame(t, aRoom)
	bRoom := env.connect(t, bob, Target{Feed: RoomFeed, Room: group})
	readFrame(t, bRoom)
	cRoom := env.connect(t, carol, Target{Feed: RoomFeed, Room: group})
	readFrame(t, cRoom)

	require.NoError(t, aRoom.WriteJSON(map[string]any{"message": "just you", "recipient": bob.Id}))
	got := readFrame(t, bRoom)
	assert.Equal(t, "just you", got["message"])

	expectNoFrame(t, cRoom)
}

func TestSession_FrameErrors(t *testing.T) {
	t.Run("reported", func(t *testing.T) {
		env := newTestEnv(t, Options{ReportFrameErrors: true})
		alice, bob := env.user(t, "Alice"), env.user(t, "Bob")
		r1 := env.room(t, "r1", false, alice, bob)

		aRoom := env.connect(t, alice, Target{Feed: RoomFeed, Room: r1})
		readFrame(t, aRoom)
		bRoom := env.connect(t, bob, Target{Feed: RoomFeed, Room: r1})
		readFrame(t, bRoom)

		require.NoError(t, aRoom.WriteMessage(websocket.TextMessage, []byte("not json")))
		got := readFrame(t, aRoom)
		assert.Equal(t, "error", got["type"])
		assert.Contains(t, got["error"], "malformed frame")

		require.NoError(t, aRoom.WriteJSON(map[string]any{"message": ""}))
		got = readFrame(t, aRoom)
		assert.Equal(t, "error", got["type"])

		// the connection survives rejected frames
		require.NoError(t, aRoom.WriteJSON(map[string]any{"message": "still here"}))
		got = readFrame(t, bRoom)
		assert.Equal(t, "still here", got["message"])
	})

	t.Run("silent", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		alice, bob := env.user(t, "Alice"), env.user(t, "Bob")
		r1 := env.room(t, "r1", false, alice, bob)

		aRoom := env.connect(t, alice, Target{Feed: RoomFeed, Room: r1})
		readFrame(t, aRoom)
		bRoom := env.connect(t, bob, Target{Feed: RoomFeed, Room: r1})
		readFrame(t, bRoom)

		require.NoError(t, aRoom.WriteMessage(websocket.TextMessage, []byte("{")))
		require.NoError(t, aRoom.WriteJSON(map[string]any{"message": "after garbage"}))
		got := readFrame(t, bRoom)
		assert.Equal(t, "after garbage", got["message"])

		expectNoFrame(t, aRoom)
	})
}

func TestSession_RoomsListFeed(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, bob := env.user(t, "Alice"), env.user(t, "Bob")
	r1 := env.room(t, "r1", false, alice, bob)

	list := env.connect(t, alice, Target{Feed: RoomsListFeed})
	frame := readFrame(t, list)
	assert.Equal(t, "chatrooms_list", frame["type"])
	rooms := frame["chatrooms"].([]any)
	require.Len(t, rooms, 1)
	entry := rooms[0].(map[string]any)
	assert.Equal(t, "Bob", entry["other_user"])
	assert.Nil(t, entry["last_message"])
	assert.Equal(t, float64(0), entry["unread"])

	require.NoError(t, list.WriteJSON(map[string]any{"type": "refresh"}))
	frame = readFrame(t, list)
	assert.Equal(t, "chatrooms_list", frame["type"])

	_, err := env.cs.Controller().SendMessage(context.Background(), bob, r1.Id, "hello", 0, nil)
	require.NoError(t, err)

	frame = readFrame(t, list)
	entry = frame["chatrooms"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(1), entry["unread"])
	last := entry["last_message"].(map[string]any)
	assert.Equal(t, "hello", last["text"])
	assert.Equal(t, "Bob", last["sender"])
}

func TestSession_UnreadRefresh(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice, bob := env.user(t, "Alice"), env.user(t, "Bob")
	r1 := env.room(t, "r1", false, alice, bob)
	_, err := env.db.CreateMessage(context.Background(), database.CreateMessageParams{RoomId: r1.Id, SenderId: bob.Id, Content: "hey"})
	require.NoError(t, err)

	conn := env.connect(t, alice, Target{Feed: UnreadFeed})
	assert.Equal(t, 1, readUnread(t, conn))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "refresh"}))
	assert.Equal(t, 1, readUnread(t, conn))
}

func TestSession_DeliverFullQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &Session{
		log:    testutil.TestLogger(t),
		send:   make(chan *hub.Event, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	h := hub.NewHub(testutil.TestLogger(t), (&stats.MockStatsUpdater{}).AllowAll())
	h.Join(hub.Room(1), s)

	assert.Equal(t, 1, h.Broadcast(ctx, hub.Room(1), &hub.Event{Kind: hub.EventTyping}, nil))
	assert.Equal(t, 0, h.Broadcast(ctx, hub.Room(1), &hub.Event{Kind: hub.EventTyping}, nil))

	assert.Error(t, ctx.Err(), "expected a slow session to be cancelled")
	assert.False(t, h.IsMember(hub.Room(1), s), "expected a slow session to be dropped from the group")
	assert.False(t, s.Deliver(&hub.Event{Kind: hub.EventTyping}))
}

func TestChatServer_Shutdown(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := env.user(t, "Alice")

	conn := env.connect(t, alice, Target{Feed: UnreadFeed})
	readUnread(t, conn)
	assert.Equal(t, 1, env.cs.SessionCount())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.cs.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected going away, got %v", err)
	assert.Equal(t, 0, env.cs.SessionCount())
	assert.Equal(t, 0, env.hub.GroupCount(), "expected sessions to leave their groups")

	late := env.connect(t, alice, Target{Feed: UnreadFeed})
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseServiceRestart), "expected service restart, got %v", err)
}
