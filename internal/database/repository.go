package database

import (
	"context"

	"github.com/psky-chat/psky-relay/internal/lexicon"
)

// Mirror is the local-mirror interface consumed by the relay engine and
// the read API. Store is the production implementation; MockMirror
// backs the engine tests.
type Mirror interface {
	GetUser(ctx context.Context, did string) (*User, error)
	UpsertUser(ctx context.Context, did string, profile *lexicon.Profile) (*User, error)
	EnsureUser(ctx context.Context, did string) (*User, error)
	UpdateUserHandle(ctx context.Context, did, handle string) error
	SetUserActive(ctx context.Context, did string, active bool) error
	DeleteUser(ctx context.Context, did string) error

	GetRoom(ctx context.Context, uri string) (*Room, error)
	InsertRoom(ctx context.Context, room *Room) error
	UpdateRoom(ctx context.Context, room *Room) error
	DeleteRoom(ctx context.Context, uri string) error
	ListRooms(ctx context.Context, limit, offset int) ([]Room, error)

	InsertMessage(ctx context.Context, msg *Message) error
	UpdateMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, uri string) (string, error)
	ListMessages(ctx context.Context, room string, limit, offset int) ([]MessageView, error)
}

var _ Mirror = (*Store)(nil)
