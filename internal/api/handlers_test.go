package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (ta *testApp) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, ta.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListRooms(t *testing.T) {
	ta := newTestApp(t)
	alice, aliceToken := ta.user(t, "alice", false)
	bob, _ := ta.user(t, "bob", false)

	_, err := ta.db.CreateRoom(context.Background(), database.CreateRoomParams{Name: "dm_ab", MemberIds: []int{alice.Id, bob.Id}})
	require.NoError(t, err)

	t.Run("unauthenticated", func(t *testing.T) {
		resp := ta.do(t, http.MethodGet, "/api/rooms", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("authenticated", func(t *testing.T) {
		resp := ta.do(t, http.MethodGet, "/api/rooms", aliceToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

		var body struct {
			Type      string           `json:"type"`
			Chatrooms []map[string]any `json:"chatrooms"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "chatrooms_list", body.Type)
		if assert.Len(t, body.Chatrooms, 1) {
			assert.Equal(t, "dm_ab", body.Chatrooms[0]["name"])
			assert.Equal(t, "bob", body.Chatrooms[0]["other_user"])
		}
	})
}

func TestCreateDirectRoom(t *testing.T) {
	ta := newTestApp(t)
	alice, aliceToken := ta.user(t, "alice", false)
	bob, bobToken := ta.user(t, "bob", false)

	resp := ta.do(t, http.MethodPost, "/api/rooms/direct", aliceToken, map[string]any{"user_id": bob.Id})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created RoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.False(t, created.IsGroup)
	assert.Len(t, created.Members, 2)

	// the pair already has a room, from either side
	resp = ta.do(t, http.MethodPost, "/api/rooms/direct", bobToken, map[string]any{"user_id": alice.Id})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reused RoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reused))
	assert.Equal(t, created.Id, reused.Id)

	tcases := []struct {
		name       string
		body       any
		expectCode int
	}{
		{name: "string id", body: map[string]any{"user_id": strconv.Itoa(bob.Id)}, expectCode: http.StatusOK},
		{name: "self", body: map[string]any{"user_id": alice.Id}, expectCode: http.StatusBadRequest},
		{name: "missing id", body: map[string]any{}, expectCode: http.StatusBadRequest},
		{name: "bad id", body: map[string]any{"user_id": "bob"}, expectCode: http.StatusBadRequest},
		{name: "unknown user", body: map[string]any{"user_id": 999}, expectCode: http.StatusNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ta.do(t, http.MethodPost, "/api/rooms/direct", aliceToken, tc.body)
			assert.Equal(t, tc.expectCode, resp.StatusCode)
		})
	}
}

func TestCreateGroupRoom(t *testing.T) {
	ta := newTestApp(t)
	staff, staffToken := ta.user(t, "agent", true)
	alice, aliceToken := ta.user(t, "alice", false)

	t.Run("forbidden for members", func(t *testing.T) {
		resp := ta.do(t, http.MethodPost, "/api/rooms/group", aliceToken, map[string]any{"name": "trip", "member_ids": []int{alice.Id}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("created", func(t *testing.T) {
		resp := ta.do(t, http.MethodPost, "/api/rooms/group", staffToken, map[string]any{"name": " trip ", "member_ids": []int{staff.Id, alice.Id}})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var room RoomResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&room))
		assert.Equal(t, "trip", room.Name)
		assert.True(t, room.IsGroup)
		assert.Len(t, room.Members, 2)
	})

	tcases := []struct {
		name       string
		body       any
		expectCode int
	}{
		{name: "duplicate name", body: map[string]any{"name": "trip", "member_ids": []int{staff.Id}}, expectCode: http.StatusConflict},
		{name: "empty name", body: map[string]any{"name": " ", "member_ids": []int{staff.Id}}, expectCode: http.StatusBadRequest},
		{name: "no members", body: map[string]any{"name": "empty"}, expectCode: http.StatusBadRequest},
		{name: "unknown member", body: map[string]any{"name": "ghosts", "member_ids": []int{999}}, expectCode: http.StatusNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ta.do(t, http.MethodPost, "/api/rooms/group", staffToken, tc.body)
			assert.Equal(t, tc.expectCode, resp.StatusCode)
		})
	}
}
