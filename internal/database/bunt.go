package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
)

// BuntChatRepository is an embedded ChatRepository backed by buntdb. It is
// used for development and tests; path ":memory:" keeps everything in memory.
type BuntChatRepository struct {
	db *buntdb.DB
}

type buntRoom struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
	MemberIds []int     `json:"member_ids"`
}

func NewBuntChatRepository(path string) (*BuntChatRepository, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntChatRepository{db: db}, nil
}

func userKey(id int) string           { return fmt.Sprintf("user:%010d", id) }
func roomKey(id int) string           { return fmt.Sprintf("room:%010d", id) }
func roomNameKey(name string) string  { return "roomname:" + name }
func tokenKey(key string) string      { return "token:" + key }
func memberKey(user, room int) string { return fmt.Sprintf("member:%010d:%010d", user, room) }
func messagePrefix(room int) string   { return fmt.Sprintf("message:%010d:", room) }
func messageKey(room, id int) string  { return fmt.Sprintf("%s%012d", messagePrefix(room), id) }

func getJSON(tx *buntdb.Tx, key string, v any) error {
	val, err := tx.Get(key)
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), v)
}

func setJSON(tx *buntdb.Tx, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(b), nil)
	return err
}

func nextId(tx *buntdb.Tx, kind string) (int, error) {
	key := "seq:" + kind
	cur := 0
	val, err := tx.Get(key)
	switch {
	case err == nil:
		cur, err = strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence %s: %w", kind, err)
		}
	case !errors.Is(err, buntdb.ErrNotFound):
		return 0, err
	}

	cur++
	if _, _, err := tx.Set(key, strconv.Itoa(cur), nil); err != nil {
		return 0, err
	}
	return cur, nil
}

func (b *BuntChatRepository) Ping(_ context.Context) error {
	return b.db.View(func(tx *buntdb.Tx) error { return nil })
}

func (b *BuntChatRepository) Close() error {
	return b.db.Close()
}

func (b *BuntChatRepository) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	var u User
	err := b.db.Update(func(tx *buntdb.Tx) error {
		id, err := nextId(tx, "user")
		if err != nil {
			return err
		}
		u = User{
			Id:        id,
			Name:      params.Name,
			Email:     params.Email,
			AvatarURL: params.AvatarURL,
			IsActive:  params.IsActive,
			IsStaff:   params.IsStaff,
			CreatedAt: time.Now().UTC(),
		}
		return setJSON(tx, userKey(id), u)
	})
	return u, err
}

// SetUserActive toggles an account's active flag.
func (b *BuntChatRepository) SetUserActive(_ context.Context, userId int, active bool) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		var u User
		if err := getJSON(tx, userKey(userId), &u); err != nil {
			return err
		}
		u.IsActive = active
		return setJSON(tx, userKey(userId), u)
	})
}

func (b *BuntChatRepository) GetUserById(_ context.Context, userId int) (User, error) {
	var u User
	err := b.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, userKey(userId), &u)
	})
	return u, err
}

func (b *BuntChatRepository) CreateAuthToken(_ context.Context, token AuthToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	return b.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(tokenKey(token.TokenKey)); err == nil {
			return fmt.Errorf("%w: token %s", ErrConflict, token.TokenKey)
		}
		return setJSON(tx, tokenKey(token.TokenKey), token)
	})
}

func (b *BuntChatRepository) GetAuthToken(_ context.Context, key string) (AuthToken, error) {
	var t AuthToken
	err := b.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, tokenKey(key), &t)
	})
	return t, err
}

func (b *BuntChatRepository) CreateRoom(_ context.Context, params CreateRoomParams) (Room, error) {
	var room Room
	err := b.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(roomNameKey(params.Name)); err == nil {
			return fmt.Errorf("%w: room %q", ErrConflict, params.Name)
		}

		id, err := nextId(tx, "room")
		if err != nil {
			return err
		}
		br := buntRoom{
			Id:        id,
			Name:      params.Name,
			IsGroup:   params.IsGroup,
			CreatedAt: time.Now().UTC(),
		}
		for _, uid := range params.MemberIds {
			if containsId(br.MemberIds, uid) {
				continue
			}
			if _, err := tx.Get(userKey(uid)); err != nil {
				return fmt.Errorf("%w: user %d", ErrNotFound, uid)
			}
			br.MemberIds = append(br.MemberIds, uid)
			if _, _, err := tx.Set(memberKey(uid, id), "", nil); err != nil {
				return err
			}
		}

		if err := setJSON(tx, roomKey(id), br); err != nil {
			return err
		}
		if _, _, err := tx.Set(roomNameKey(params.Name), strconv.Itoa(id), nil); err != nil {
			return err
		}

		room, err = loadRoom(tx, id)
		return err
	})
	return room, err
}

func loadRoom(tx *buntdb.Tx, roomId int) (Room, error) {
	var br buntRoom
	if err := getJSON(tx, roomKey(roomId), &br); err != nil {
		return Room{}, err
	}

	room := Room{Id: br.Id, Name: br.Name, IsGroup: br.IsGroup, CreatedAt: br.CreatedAt}
	ids := append([]int(nil), br.MemberIds...)
	sort.Ints(ids)
	for _, uid := range ids {
		var u User
		if err := getJSON(tx, userKey(uid), &u); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Room{}, err
		}
		room.Members = append(room.Members, u)
	}
	return room, nil
}

func containsId(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (b *BuntChatRepository) GetRoomById(_ context.Context, roomId int) (Room, error) {
	var room Room
	err := b.db.View(func(tx *buntdb.Tx) (err error) {
		room, err = loadRoom(tx, roomId)
		return err
	})
	return room, err
}

func (b *BuntChatRepository) GetRoomByName(_ context.Context, name string) (Room, error) {
	var room Room
	err := b.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(roomNameKey(name))
		if errors.Is(err, buntdb.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		room, err = loadRoom(tx, id)
		return err
	})
	return room, err
}

func (b *BuntChatRepository) FindDirectRoom(_ context.Context, userA, userB int) (Room, error) {
	var room Room
	err := b.db.View(func(tx *buntdb.Tx) error {
		found := 0
		var iterErr error
		err := tx.AscendKeys(fmt.Sprintf("member:%010d:*", userA), func(key, _ string) bool {
			roomId, err := roomIdFromMemberKey(key)
			if err != nil {
				iterErr = err
				return false
			}
			var br buntRoom
			if err := getJSON(tx, roomKey(roomId), &br); err != nil {
				iterErr = err
				return false
			}
			if !br.IsGroup && containsId(br.MemberIds, userB) {
				found = roomId
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if iterErr != nil {
			return iterErr
		}
		if found == 0 {
			return ErrNotFound
		}
		room, err = loadRoom(tx, found)
		return err
	})
	return room, err
}

func roomIdFromMemberKey(key string) (int, error) {
	i := strings.LastIndexByte(key, ':')
	return strconv.Atoi(key[i+1:])
}

func (b *BuntChatRepository) AddRoomMember(_ context.Context, roomId, userId int) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		var br buntRoom
		if err := getJSON(tx, roomKey(roomId), &br); err != nil {
			return err
		}
		if _, err := tx.Get(userKey(userId)); err != nil {
			return fmt.Errorf("%w: user %d", ErrNotFound, userId)
		}
		if containsId(br.MemberIds, userId) {
			return nil
		}
		br.MemberIds = append(br.MemberIds, userId)
		if _, _, err := tx.Set(memberKey(userId, roomId), "", nil); err != nil {
			return err
		}
		return setJSON(tx, roomKey(roomId), br)
	})
}

func (b *BuntChatRepository) IsRoomMember(_ context.Context, roomId, userId int) (bool, error) {
	var ok bool
	err := b.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(memberKey(userId, roomId))
		switch {
		case err == nil:
			ok = true
		case errors.Is(err, buntdb.ErrNotFound):
		default:
			return err
		}
		return nil
	})
	return ok, err
}

func (b *BuntChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	room, err := b.GetRoomById(ctx, roomId)
	if err != nil {
		return nil, err
	}
	return room.Members, nil
}

func (b *BuntChatRepository) ListRoomsForUser(_ context.Context, userId int) ([]Room, error) {
	var rooms []Room
	err := b.db.View(func(tx *buntdb.Tx) error {
		var ids []int
		var iterErr error
		err := tx.AscendKeys(fmt.Sprintf("member:%010d:*", userId), func(key, _ string) bool {
			id, err := roomIdFromMemberKey(key)
			if err != nil {
				iterErr = err
				return false
			}
			ids = append(ids, id)
			return true
		})
		if err != nil {
			return err
		}
		if iterErr != nil {
			return iterErr
		}

		for _, id := range ids {
			r, err := loadRoom(tx, id)
			if err != nil {
				return err
			}
			rooms = append(rooms, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].Id > rooms[j].Id
	})
	return rooms, nil
}

func (b *BuntChatRepository) CreateMessage(_ context.Context, params CreateMessageParams) (Message, error) {
	var m Message
	err := b.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(roomKey(params.RoomId)); err != nil {
			return fmt.Errorf("%w: room %d", ErrNotFound, params.RoomId)
		}
		if _, err := tx.Get(userKey(params.SenderId)); err != nil {
			return fmt.Errorf("%w: user %d", ErrNotFound, params.SenderId)
		}

		id, err := nextId(tx, "message")
		if err != nil {
			return err
		}
		created := params.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		m = Message{
			Id:        id,
			RoomId:    params.RoomId,
			SenderId:  params.SenderId,
			Content:   params.Content,
			CreatedAt: created.UTC(),
		}
		return setJSON(tx, messageKey(params.RoomId, id), m)
	})
	return m, err
}

func withSender(tx *buntdb.Tx, m Message) (MessageWithSender, error) {
	var u User
	if err := getJSON(tx, userKey(m.SenderId), &u); err != nil {
		return MessageWithSender{}, err
	}
	return MessageWithSender{Message: m, SenderName: u.Name, SenderEmail: u.Email}, nil
}

func (b *BuntChatRepository) GetMessages(_ context.Context, roomId, limit int) ([]MessageWithSender, error) {
	var messages []MessageWithSender
	err := b.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		collect := func(_, val string) bool {
			var m Message
			if iterErr = json.Unmarshal([]byte(val), &m); iterErr != nil {
				return false
			}
			var mw MessageWithSender
			if mw, iterErr = withSender(tx, m); iterErr != nil {
				return false
			}
			messages = append(messages, mw)
			return limit <= 0 || len(messages) < limit
		}

		var err error
		if limit > 0 {
			err = tx.DescendKeys(messagePrefix(roomId)+"*", collect)
		} else {
			err = tx.AscendKeys(messagePrefix(roomId)+"*", collect)
		}
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func (b *BuntChatRepository) GetLastMessage(ctx context.Context, roomId int) (MessageWithSender, error) {
	messages, err := b.GetMessages(ctx, roomId, 1)
	if err != nil {
		return MessageWithSender{}, err
	}
	if len(messages) == 0 {
		return MessageWithSender{}, ErrNotFound
	}
	return messages[0], nil
}

// eachUnread calls fn with the key and value of every message in the room
// that userId has not read.
func eachUnread(tx *buntdb.Tx, roomId, userId int, fn func(key string, m Message)) error {
	active := make(map[int]bool)
	var iterErr error
	err := tx.AscendKeys(messagePrefix(roomId)+"*", func(key, val string) bool {
		var m Message
		if iterErr = json.Unmarshal([]byte(val), &m); iterErr != nil {
			return false
		}
		if m.IsRead || m.SenderId == userId {
			return true
		}

		isActive, seen := active[m.SenderId]
		if !seen {
			var u User
			if err := getJSON(tx, userKey(m.SenderId), &u); err == nil {
				isActive = u.IsActive
			}
			active[m.SenderId] = isActive
		}
		if isActive {
			fn(key, m)
		}
		return true
	})
	if err != nil {
		return err
	}
	return iterErr
}

func (b *BuntChatRepository) CountUnread(_ context.Context, roomId, userId int) (int, error) {
	n := 0
	err := b.db.View(func(tx *buntdb.Tx) error {
		return eachUnread(tx, roomId, userId, func(string, Message) { n++ })
	})
	return n, err
}

func (b *BuntChatRepository) CountUnreadForUser(ctx context.Context, userId int) (int, error) {
	rooms, err := b.ListRoomsForUser(ctx, userId)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, r := range rooms {
		n, err := b.CountUnread(ctx, r.Id, userId)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (b *BuntChatRepository) MarkAllRead(_ context.Context, roomId, userId int) (int, error) {
	marked := 0
	err := b.db.Update(func(tx *buntdb.Tx) error {
		// buntdb forbids writes while iterating
		pending := make(map[string]Message)
		if err := eachUnread(tx, roomId, userId, func(key string, m Message) {
			m.IsRead = true
			pending[key] = m
		}); err != nil {
			return err
		}

		for key, m := range pending {
			if err := setJSON(tx, key, m); err != nil {
				return err
			}
		}
		marked = len(pending)
		return nil
	})
	return marked, err
}
