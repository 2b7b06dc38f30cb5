package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	userColumns = "a.id, a.name, a.email, a.avatar_url, a.is_active, a.is_staff, a.created_at"

	// unreadPredicate selects messages a user has not yet read in room $1.
	unreadPredicate = "m.room_id = $1 AND m.is_read = FALSE AND m.sender_id <> $2 AND a.is_active = TRUE"

	messageWithSenderQuery = "SELECT m.id, m.room_id, m.sender_id, m.content, m.is_read, m.created_at, a.name, a.email " +
		"FROM messages m JOIN accounts a ON a.id = m.sender_id "
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.Id, &u.Name, &u.Email, &u.AvatarURL, &u.IsActive, &u.IsStaff, &u.CreatedAt)
	return u, err
}

func scanMessageWithSender(row rowScanner) (MessageWithSender, error) {
	var m MessageWithSender
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.SenderId,
		&m.Content,
		&m.IsRead,
		&m.CreatedAt,
		&m.SenderName,
		&m.SenderEmail,
	)
	return m, err
}

func (db *PgChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts AS a (name, email, avatar_url, is_active, is_staff, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+userColumns,
		params.Name,
		params.Email,
		params.AvatarURL,
		params.IsActive,
		params.IsStaff,
		time.Now().UTC(),
	)

	u, err := scanUser(row)
	return u, mapError(err)
}

func (db *PgChatRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM accounts a WHERE a.id = $1 LIMIT 1",
		userId,
	)

	u, err := scanUser(row)
	return u, mapError(err)
}

func (db *PgChatRepository) CreateAuthToken(ctx context.Context, token AuthToken) error {
	var expiry sql.NullTime
	if !token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: token.Expiry.UTC(), Valid: true}
	}

	created := token.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO auth_tokens (token_key, digest, account_id, expiry, created_at) VALUES ($1, $2, $3, $4, $5)",
		token.TokenKey,
		token.Digest,
		token.UserId,
		expiry,
		created.UTC(),
	)
	return mapError(err)
}

func (db *PgChatRepository) GetAuthToken(ctx context.Context, tokenKey string) (AuthToken, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT token_key, digest, account_id, expiry, created_at FROM auth_tokens WHERE token_key = $1",
		tokenKey,
	)

	var (
		t      AuthToken
		expiry sql.NullTime
	)
	if err := row.Scan(&t.TokenKey, &t.Digest, &t.UserId, &expiry, &t.CreatedAt); err != nil {
		return AuthToken{}, mapError(err)
	}
	if expiry.Valid {
		t.Expiry = expiry.Time
	}
	return t, nil
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer tx.Rollback()

	var room Room
	err = tx.QueryRowContext(ctx,
		"INSERT INTO rooms (name, is_group, created_at) VALUES ($1, $2, $3) RETURNING id, name, is_group, created_at",
		params.Name,
		params.IsGroup,
		time.Now().UTC(),
	).Scan(&room.Id, &room.Name, &room.IsGroup, &room.CreatedAt)
	if err != nil {
		return Room{}, mapError(err)
	}

	if len(params.MemberIds) > 0 {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO room_members (room_id, account_id) SELECT $1, unnest($2::int[]) ON CONFLICT DO NOTHING",
			room.Id,
			pq.Array(params.MemberIds),
		)
		if err != nil {
			return Room{}, mapError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Room{}, fmt.Errorf("commit room: %w", err)
	}

	room.Members, err = db.ListRoomMembers(ctx, room.Id)
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

func (db *PgChatRepository) getRoom(ctx context.Context, where string, arg any) (Room, error) {
	var room Room
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, name, is_group, created_at FROM rooms WHERE "+where+" LIMIT 1",
		arg,
	).Scan(&room.Id, &room.Name, &room.IsGroup, &room.CreatedAt)
	if err != nil {
		return Room{}, mapError(err)
	}

	room.Members, err = db.ListRoomMembers(ctx, room.Id)
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

func (db *PgChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	return db.getRoom(ctx, "id = $1", roomId)
}

func (db *PgChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	return db.getRoom(ctx, "name = $1", name)
}

func (db *PgChatRepository) FindDirectRoom(ctx context.Context, userA, userB int) (Room, error) {
	var roomId int
	err := db.conn.QueryRowContext(ctx, `
		SELECT r.id FROM rooms r
		JOIN room_members ma ON ma.room_id = r.id AND ma.account_id = $1
		JOIN room_members mb ON mb.room_id = r.id AND mb.account_id = $2
		WHERE r.is_group = FALSE
		ORDER BY r.id
		LIMIT 1`,
		userA,
		userB,
	).Scan(&roomId)
	if err != nil {
		return Room{}, mapError(err)
	}
	return db.GetRoomById(ctx, roomId)
}

func (db *PgChatRepository) AddRoomMember(ctx context.Context, roomId, userId int) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO room_members (room_id, account_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		roomId,
		userId,
	)
	return mapError(err)
}

func (db *PgChatRepository) IsRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND account_id = $2)",
		roomId,
		userId,
	).Scan(&ok)
	return ok, err
}

func (db *PgChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+userColumns+" FROM accounts a "+
			"JOIN room_members rm ON rm.account_id = a.id "+
			"WHERE rm.room_id = $1 ORDER BY a.id",
		roomId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list room members: %w", err)
	}
	defer rows.Close()

	var members []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

func (db *PgChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.id, r.name, r.is_group, r.created_at FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id
		WHERE rm.account_id = $1
		ORDER BY r.created_at DESC, r.id DESC`,
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.Id, &r.Name, &r.IsGroup, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rooms {
		rooms[i].Members, err = db.ListRoomMembers(ctx, rooms[i].Id)
		if err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	created := params.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var m Message
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (room_id, sender_id, content, is_read, created_at) "+
			"VALUES ($1, $2, $3, FALSE, $4) RETURNING id, room_id, sender_id, content, is_read, created_at",
		params.RoomId,
		params.SenderId,
		params.Content,
		created.UTC(),
	).Scan(&m.Id, &m.RoomId, &m.SenderId, &m.Content, &m.IsRead, &m.CreatedAt)

	return m, mapError(err)
}

func (db *PgChatRepository) GetMessages(ctx context.Context, roomId, limit int) ([]MessageWithSender, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT * FROM ("+messageWithSenderQuery+
				"WHERE m.room_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT $2"+
				") recent ORDER BY created_at ASC, id ASC",
			roomId,
			limit,
		)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			messageWithSenderQuery+"WHERE m.room_id = $1 ORDER BY m.created_at ASC, m.id ASC",
			roomId,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []MessageWithSender
	for rows.Next() {
		m, err := scanMessageWithSender(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (db *PgChatRepository) GetLastMessage(ctx context.Context, roomId int) (MessageWithSender, error) {
	row := db.conn.QueryRowContext(ctx,
		messageWithSenderQuery+"WHERE m.room_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT 1",
		roomId,
	)

	m, err := scanMessageWithSender(row)
	return m, mapError(err)
}

func (db *PgChatRepository) CountUnread(ctx context.Context, roomId, userId int) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages m JOIN accounts a ON a.id = m.sender_id WHERE "+unreadPredicate,
		roomId,
		userId,
	).Scan(&n)
	return n, err
}

func (db *PgChatRepository) CountUnreadForUser(ctx context.Context, userId int) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN accounts a ON a.id = m.sender_id
		JOIN room_members rm ON rm.room_id = m.room_id AND rm.account_id = $1
		WHERE m.is_read = FALSE AND m.sender_id <> $1 AND a.is_active = TRUE`,
		userId,
	).Scan(&n)
	return n, err
}

func (db *PgChatRepository) MarkAllRead(ctx context.Context, roomId, userId int) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages m SET is_read = TRUE FROM accounts a "+
			"WHERE a.id = m.sender_id AND "+unreadPredicate,
		roomId,
		userId,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}
