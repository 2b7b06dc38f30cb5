package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/rooms"
	"github.com/dxpcore/dxp-chat/internal/server"
	"github.com/dxpcore/dxp-chat/internal/types"
)

type CreateDirectRoomRequest struct {
	UserId server.UserRef `json:"user_id"`
}

type CreateGroupRoomRequest struct {
	Name      string `json:"name"`
	MemberIds []int  `json:"member_ids"`
}

type RoomMember struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type RoomResponse struct {
	Id        int          `json:"id"`
	Name      string       `json:"name"`
	IsGroup   bool         `json:"is_group"`
	CreatedAt time.Time    `json:"created_at"`
	Members   []RoomMember `json:"members"`
}

func newRoomResponse(r database.Room) RoomResponse {
	resp := RoomResponse{
		Id:        r.Id,
		Name:      r.Name,
		IsGroup:   r.IsGroup,
		CreatedAt: r.CreatedAt,
		Members:   make([]RoomMember, 0, len(r.Members)),
	}
	for _, m := range r.Members {
		resp.Members = append(resp.Members, RoomMember{Id: m.Id, Name: m.Name, Email: m.Email})
	}
	return resp
}

func (a *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("json encode", "error", err)
	}
}

func (a *ChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		a.log.Error("request failed", "error", errResp)
	}
	a.writeJson(w, errResp.StatusCode, errResp)
}

func (a *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Ping(r.Context()); err != nil {
		a.writeError(w, NewServiceUnavailableError(err))
		return
	}
	a.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *ChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		a.writeError(w, NewUnauthorizedError())
		return
	}

	summaries, err := a.cs.Controller().RoomList(r.Context(), user)
	if err != nil {
		a.writeError(w, NewInternalServerError(err))
		return
	}

	a.writeJson(w, http.StatusOK, server.NewRoomsListFrame(summaries))
}

func (a *ChatApp) createDirectRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		a.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateDirectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 {
		a.writeError(w, NewBadRequestError())
		return
	}

	room, created, err := a.rooms.CreateDirectRoom(r.Context(), user.Id, int(req.UserId))
	switch {
	case errors.Is(err, rooms.ErrSameUser):
		a.writeError(w, NewBadRequestError())
		return
	case errors.Is(err, database.ErrNotFound):
		a.writeError(w, NewNotFoundError())
		return
	case err != nil:
		a.writeError(w, NewInternalServerError(err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	a.writeJson(w, status, newRoomResponse(room))
}

func (a *ChatApp) createGroupRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, NewBadRequestError())
		return
	}

	room, err := a.rooms.CreateGroupRoom(r.Context(), req.Name, req.MemberIds)
	switch {
	case errors.Is(err, rooms.ErrInvalidRoom):
		a.writeError(w, NewBadRequestError())
		return
	case errors.Is(err, database.ErrConflict):
		a.writeError(w, NewConflictError())
		return
	case errors.Is(err, database.ErrNotFound):
		a.writeError(w, NewNotFoundError())
		return
	case err != nil:
		a.writeError(w, NewInternalServerError(err))
		return
	}

	a.writeJson(w, http.StatusCreated, newRoomResponse(room))
}

// lookupRoom resolves the {room} path value, which is either a numeric room
// id or a room name.
func (a *ChatApp) lookupRoom(r *http.Request) (database.Room, error) {
	ref := r.PathValue("room")
	if id, err := strconv.Atoi(ref); err == nil {
		return a.db.GetRoomById(r.Context(), id)
	}
	return a.db.GetRoomByName(r.Context(), ref)
}

func isMember(room database.Room, userId int) bool {
	return slices.ContainsFunc(room.Members, func(m database.User) bool { return m.Id == userId })
}

func (a *ChatApp) serveChat(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		a.writeError(w, NewUnauthorizedError())
		return
	}

	room, err := a.lookupRoom(r)
	if errors.Is(err, database.ErrNotFound) {
		a.writeError(w, NewNotFoundError())
		return
	}
	if err != nil {
		a.writeError(w, NewInternalServerError(err))
		return
	}

	if !isMember(room, user.Id) {
		a.writeError(w, NewForbiddenError())
		return
	}

	a.serveWs(w, r, user, server.Target{Feed: server.RoomFeed, Room: &room})
}

func (a *ChatApp) serveRoomsList(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		a.writeError(w, NewUnauthorizedError())
		return
	}
	a.serveWs(w, r, user, server.Target{Feed: server.RoomsListFeed})
}

func (a *ChatApp) serveUnread(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		a.writeError(w, NewUnauthorizedError())
		return
	}
	a.serveWs(w, r, user, server.Target{Feed: server.UnreadFeed})
}

func (a *ChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(a.allowedOrigins, origin)
}

func (a *ChatApp) serveWs(w http.ResponseWriter, r *http.Request, user types.User, target server.Target) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("error upgrading connection", "error", err)
		return
	}

	if err := a.cs.Serve(r.Context(), conn, user, target); err != nil {
		a.log.Warn("session refused", "user", user.Id, "error", err)
	}
}
