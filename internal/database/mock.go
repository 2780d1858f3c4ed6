package database

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/psky-chat/psky-relay/internal/lexicon"
)

// MockMirror is a testify mock of the Mirror interface.
type MockMirror struct {
	mock.Mock
}

var _ Mirror = (*MockMirror)(nil)

func (m *MockMirror) GetUser(ctx context.Context, did string) (*User, error) {
	args := m.Called(did)
	if u, ok := args.Get(0).(*User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMirror) UpsertUser(ctx context.Context, did string, profile *lexicon.Profile) (*User, error) {
	args := m.Called(did, profile)
	if u, ok := args.Get(0).(*User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMirror) EnsureUser(ctx context.Context, did string) (*User, error) {
	args := m.Called(did)
	if u, ok := args.Get(0).(*User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMirror) UpdateUserHandle(ctx context.Context, did, handle string) error {
	args := m.Called(did, handle)
	return args.Error(0)
}

func (m *MockMirror) SetUserActive(ctx context.Context, did string, active bool) error {
	args := m.Called(did, active)
	return args.Error(0)
}

func (m *MockMirror) DeleteUser(ctx context.Context, did string) error {
	args := m.Called(did)
	return args.Error(0)
}

func (m *MockMirror) GetRoom(ctx context.Context, uri string) (*Room, error) {
	args := m.Called(uri)
	if r, ok := args.Get(0).(*Room); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMirror) InsertRoom(ctx context.Context, room *Room) error {
	args := m.Called(room)
	return args.Error(0)
}

func (m *MockMirror) UpdateRoom(ctx context.Context, room *Room) error {
	args := m.Called(room)
	return args.Error(0)
}

func (m *MockMirror) DeleteRoom(ctx context.Context, uri string) error {
	args := m.Called(uri)
	return args.Error(0)
}

func (m *MockMirror) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	args := m.Called(limit, offset)
	if r, ok := args.Get(0).([]Room); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMirror) InsertMessage(ctx context.Context, msg *Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockMirror) UpdateMessage(ctx context.Context, msg *Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockMirror) DeleteMessage(ctx context.Context, uri string) (string, error) {
	args := m.Called(uri)
	return args.String(0), args.Error(1)
}

func (m *MockMirror) ListMessages(ctx context.Context, room string, limit, offset int) ([]MessageView, error) {
	args := m.Called(room, limit, offset)
	if v, ok := args.Get(0).([]MessageView); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
