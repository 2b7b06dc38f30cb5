package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) CreateAuthToken(ctx context.Context, token AuthToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}
func (m *MockChatRepository) GetAuthToken(ctx context.Context, tokenKey string) (AuthToken, error) {
	args := m.Called(ctx, tokenKey)
	return args.Get(0).(AuthToken), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByName(ctx context.Context, name string) (Room, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) FindDirectRoom(ctx context.Context, userA, userB int) (Room, error) {
	args := m.Called(ctx, userA, userB)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) AddRoomMember(ctx context.Context, roomId, userId int) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) IsRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	args := m.Called(ctx, roomId)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]Room, error) {
	args := m.Called(ctx, userId)
	if rooms, ok := args.Get(0).([]Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, roomId, limit int) ([]MessageWithSender, error) {
	args := m.Called(ctx, roomId, limit)
	if messages, ok := args.Get(0).([]MessageWithSender); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetLastMessage(ctx context.Context, roomId int) (MessageWithSender, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(MessageWithSender), args.Error(1)
}
func (m *MockChatRepository) CountUnread(ctx context.Context, roomId, userId int) (int, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) CountUnreadForUser(ctx context.Context, userId int) (int, error) {
	args := m.Called(ctx, userId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) MarkAllRead(ctx context.Context, roomId, userId int) (int, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Int(0), args.Error(1)
}
