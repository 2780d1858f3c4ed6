package relay

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/psky-chat/psky-relay/internal/cursor"
	"github.com/psky-chat/psky-relay/internal/database"
	"github.com/psky-chat/psky-relay/internal/jetstream"
	"github.com/psky-chat/psky-relay/internal/lexicon"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

const testRoomURI = "at://did:plc:owner/social.psky.chat.room/room1"

// capturePublisher records published events for assertions.
type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(v any) {
	p.events = append(p.events, v)
}

func newTestRelay(t *testing.T, mirror database.Mirror) (*Relay, *capturePublisher, *cursor.Flusher) {
	t.Helper()
	store := cursor.NewStore(filepath.Join(t.TempDir(), "cursor.txt"))
	fl := cursor.NewFlusher(store, time.Hour, 0)
	pub := &capturePublisher{}
	r := New(mirror, pub, fl)
	r.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return r, pub, fl
}

func commitEvent(did, coll string, op jetstream.Operation, rkey, record string, timeUS int64) *jetstream.Event {
	c := &jetstream.Commit{
		Rev:        "3l5abc",
		Operation:  op,
		Collection: coll,
		RKey:       rkey,
	}
	if op != jetstream.OpDelete {
		c.Record = json.RawMessage(record)
		c.CID = testCID
	}
	return &jetstream.Event{DID: did, TimeUS: timeUS, Kind: jetstream.KindCommit, Commit: c}
}

func strPtr(s string) *string { return &s }

func TestProfileUpdateUpsertsUser(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, fl := newTestRelay(t, mirror)

	mirror.On("UpsertUser", "did:plc:user1", &lexicon.Profile{Nickname: strPtr("alice")}).
		Return(&database.User{DID: "did:plc:user1", Handle: "did:plc:user1", Active: true}, nil)

	evt := commitEvent("did:plc:user1", lexicon.NSIDProfile, jetstream.OpUpdate,
		"self", `{"nickname":"alice"}`, 100)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	assert.Empty(t, pub.events, "profile events are not republished")
	assert.Equal(t, int64(100), fl.Cursor())
}

func TestProfileDeleteRemovesUser(t *testing.T) {
	mirror := new(database.MockMirror)
	r, _, _ := newTestRelay(t, mirror)

	mirror.On("DeleteUser", "did:plc:user1").Return(nil)

	evt := commitEvent("did:plc:user1", lexicon.NSIDProfile, jetstream.OpDelete, "self", "", 101)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
}

func TestMessageCreatePublishes(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	user := &database.User{DID: "did:plc:author", Handle: "alice.test", Nickname: strPtr("alice"), Active: true}
	room := &database.Room{URI: testRoomURI, OwnerDID: "did:plc:owner"}

	mirror.On("GetUser", "did:plc:author").Return(user, nil)
	mirror.On("GetRoom", testRoomURI).Return(room, nil)
	mirror.On("InsertMessage", mock.MatchedBy(func(m *database.Message) bool {
		return m.URI == "at://did:plc:author/social.psky.chat.message/msg1" &&
			m.Content == "hello" && m.Room == testRoomURI && m.UpdatedAt == nil
	})).Return(nil)

	evt := commitEvent("did:plc:author", lexicon.NSIDMessage, jetstream.OpCreate,
		"msg1", `{"content":"hello","room":"`+testRoomURI+`"}`, 102)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	require.Len(t, pub.events, 1)
	out, ok := pub.events[0].(*MessageEvent)
	require.True(t, ok)
	assert.Equal(t, TypeMessageCreate, out.Type)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, "alice.test", out.Handle)
	assert.Equal(t, strPtr("alice"), out.Nickname)
	assert.Nil(t, out.UpdatedAt)
}

func TestMessageCreateStubsUnknownAuthor(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	stub := &database.User{DID: "did:plc:author", Handle: "did:plc:author", Active: true}
	room := &database.Room{URI: testRoomURI, OwnerDID: "did:plc:owner"}

	mirror.On("GetUser", "did:plc:author").Return(nil, database.ErrNotFound)
	mirror.On("EnsureUser", "did:plc:author").Return(stub, nil)
	mirror.On("GetRoom", testRoomURI).Return(room, nil)
	mirror.On("InsertMessage", mock.Anything).Return(nil)

	evt := commitEvent("did:plc:author", lexicon.NSIDMessage, jetstream.OpCreate,
		"msg1", `{"content":"hi","room":"`+testRoomURI+`"}`, 103)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	require.Len(t, pub.events, 1)
}

func TestMessageCreateRoomNotMirrored(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, fl := newTestRelay(t, mirror)

	user := &database.User{DID: "did:plc:author", Handle: "alice.test", Active: true}
	mirror.On("GetUser", "did:plc:author").Return(user, nil)
	mirror.On("GetRoom", testRoomURI).Return(nil, database.ErrNotFound)

	evt := commitEvent("did:plc:author", lexicon.NSIDMessage, jetstream.OpCreate,
		"msg1", `{"content":"hi","room":"`+testRoomURI+`"}`, 104)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	mirror.AssertNotCalled(t, "InsertMessage", mock.Anything)
	assert.Empty(t, pub.events, "dropped message must not be published")
	assert.Equal(t, int64(104), fl.Cursor(), "cursor advances past dropped events")
}

func TestMessageCreateDenylisted(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	user := &database.User{DID: "did:plc:user2", Handle: "bob.test", Active: true}
	room := &database.Room{
		URI:      testRoomURI,
		OwnerDID: "did:plc:owner",
		Denylist: &lexicon.ModlistRef{Active: true, Users: []string{"did:plc:user2"}},
	}
	mirror.On("GetUser", "did:plc:user2").Return(user, nil)
	mirror.On("GetRoom", testRoomURI).Return(room, nil)

	evt := commitEvent("did:plc:user2", lexicon.NSIDMessage, jetstream.OpCreate,
		"msg1", `{"content":"hi","room":"`+testRoomURI+`"}`, 105)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	mirror.AssertNotCalled(t, "InsertMessage", mock.Anything)
	assert.Empty(t, pub.events, "rejected message must not be published")
}

func TestMessageUpdateStampsUpdatedAt(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	user := &database.User{DID: "did:plc:author", Handle: "alice.test", Active: true}
	room := &database.Room{URI: testRoomURI, OwnerDID: "did:plc:author"}

	mirror.On("GetUser", "did:plc:author").Return(user, nil)
	mirror.On("GetRoom", testRoomURI).Return(room, nil)
	mirror.On("UpdateMessage", mock.MatchedBy(func(m *database.Message) bool {
		return m.UpdatedAt != nil
	})).Return(nil)

	evt := commitEvent("did:plc:author", lexicon.NSIDMessage, jetstream.OpUpdate,
		"msg1", `{"content":"edited","room":"`+testRoomURI+`"}`, 106)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	require.Len(t, pub.events, 1)
	out := pub.events[0].(*MessageEvent)
	assert.Equal(t, TypeMessageUpdate, out.Type)
	require.NotNil(t, out.UpdatedAt)
}

func TestMessageDeleteIsIdempotent(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	// Message was never mirrored: delete is a no-op with an empty room.
	mirror.On("DeleteMessage", "at://did:plc:author/social.psky.chat.message/gone").
		Return("", nil)

	evt := commitEvent("did:plc:author", lexicon.NSIDMessage, jetstream.OpDelete, "gone", "", 107)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	require.Len(t, pub.events, 1)
	out := pub.events[0].(*MessageDeleteEvent)
	assert.Equal(t, TypeMessageDelete, out.Type)
	assert.Empty(t, out.Room)
}

func TestMessageDeleteCarriesRoom(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	mirror.On("DeleteMessage", "at://did:plc:author/social.psky.chat.message/msg1").
		Return(testRoomURI, nil)

	evt := commitEvent("did:plc:author", lexicon.NSIDMessage, jetstream.OpDelete, "msg1", "", 108)
	r.HandleEvent(context.Background(), evt)

	out := pub.events[0].(*MessageDeleteEvent)
	assert.Equal(t, testRoomURI, out.Room)
}

func TestRoomCreateEnsuresOwnerFirst(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	owner := &database.User{DID: "did:plc:owner", Handle: "did:plc:owner", Active: true}
	mirror.On("EnsureUser", "did:plc:owner").Return(owner, nil)
	mirror.On("InsertRoom", mock.MatchedBy(func(room *database.Room) bool {
		return room.URI == testRoomURI && room.OwnerDID == "did:plc:owner" &&
			room.Denylist != nil && room.Denylist.Active
	})).Return(nil)

	evt := commitEvent("did:plc:owner", lexicon.NSIDRoom, jetstream.OpCreate,
		"room1", `{"name":"general","denylist":{"active":true,"users":["did:plc:banned"]}}`, 109)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	require.Len(t, pub.events, 1)
	out := pub.events[0].(*RoomEvent)
	assert.Equal(t, TypeRoomCreate, out.Type)
	assert.Equal(t, strPtr("general"), out.Name)
}

func TestRoomDeletePublishes(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	mirror.On("DeleteRoom", testRoomURI).Return(nil)

	evt := commitEvent("did:plc:owner", lexicon.NSIDRoom, jetstream.OpDelete, "room1", "", 110)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertExpectations(t)
	out := pub.events[0].(*RoomDeleteEvent)
	assert.Equal(t, TypeRoomDelete, out.Type)
	assert.Equal(t, testRoomURI, out.URI)
}

func TestIdentityHandleChange(t *testing.T) {
	t.Run("known user with new handle", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:user1").
			Return(&database.User{DID: "did:plc:user1", Handle: "old.test", Active: true}, nil)
		mirror.On("UpdateUserHandle", "did:plc:user1", "new.test").Return(nil)

		r.HandleEvent(context.Background(), &jetstream.Event{
			DID: "did:plc:user1", TimeUS: 111, Kind: jetstream.KindIdentity,
			Identity: &jetstream.Identity{DID: "did:plc:user1", Handle: "new.test"},
		})
		mirror.AssertExpectations(t)
	})

	t.Run("unchanged handle is a no-op", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:user1").
			Return(&database.User{DID: "did:plc:user1", Handle: "same.test", Active: true}, nil)

		r.HandleEvent(context.Background(), &jetstream.Event{
			DID: "did:plc:user1", TimeUS: 112, Kind: jetstream.KindIdentity,
			Identity: &jetstream.Identity{DID: "did:plc:user1", Handle: "same.test"},
		})
		mirror.AssertNotCalled(t, "UpdateUserHandle", mock.Anything, mock.Anything)
	})

	t.Run("unknown user is ignored", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:ghost").Return(nil, database.ErrNotFound)

		r.HandleEvent(context.Background(), &jetstream.Event{
			DID: "did:plc:ghost", TimeUS: 113, Kind: jetstream.KindIdentity,
			Identity: &jetstream.Identity{DID: "did:plc:ghost", Handle: "ghost.test"},
		})
		mirror.AssertNotCalled(t, "UpdateUserHandle", mock.Anything, mock.Anything)
	})
}

func TestAccountLifecycle(t *testing.T) {
	accountEvent := func(active bool, status string) *jetstream.Event {
		acct := &jetstream.Account{DID: "did:plc:user1", Active: active}
		if status != "" {
			acct.Status = &status
		}
		return &jetstream.Event{
			DID: "did:plc:user1", TimeUS: 114, Kind: jetstream.KindAccount, Account: acct,
		}
	}

	t.Run("deleted account cascades", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:user1").
			Return(&database.User{DID: "did:plc:user1", Handle: "alice.test", Active: true}, nil)
		mirror.On("DeleteUser", "did:plc:user1").Return(nil)

		r.HandleEvent(context.Background(), accountEvent(false, "deleted"))
		mirror.AssertExpectations(t)
	})

	t.Run("takendown account is disabled", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:user1").
			Return(&database.User{DID: "did:plc:user1", Handle: "alice.test", Active: true}, nil)
		mirror.On("SetUserActive", "did:plc:user1", false).Return(nil)

		r.HandleEvent(context.Background(), accountEvent(false, "takendown"))
		mirror.AssertExpectations(t)
	})

	t.Run("reactivation clears inactive flag", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:user1").
			Return(&database.User{DID: "did:plc:user1", Handle: "alice.test", Active: false}, nil)
		mirror.On("SetUserActive", "did:plc:user1", true).Return(nil)

		r.HandleEvent(context.Background(), accountEvent(true, ""))
		mirror.AssertExpectations(t)
	})

	t.Run("active account already active is a no-op", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:user1").
			Return(&database.User{DID: "did:plc:user1", Handle: "alice.test", Active: true}, nil)

		r.HandleEvent(context.Background(), accountEvent(true, ""))
		mirror.AssertNotCalled(t, "SetUserActive", mock.Anything, mock.Anything)
		mirror.AssertNotCalled(t, "DeleteUser", mock.Anything)
	})

	t.Run("unknown user is ignored", func(t *testing.T) {
		mirror := new(database.MockMirror)
		r, _, _ := newTestRelay(t, mirror)

		mirror.On("GetUser", "did:plc:user1").Return(nil, database.ErrNotFound)

		r.HandleEvent(context.Background(), accountEvent(false, "deleted"))
		mirror.AssertNotCalled(t, "DeleteUser", mock.Anything)
	})
}

func TestMalformedRecordDoesNotHaltStream(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, fl := newTestRelay(t, mirror)

	evt := commitEvent("did:plc:user1", lexicon.NSIDProfile, jetstream.OpCreate,
		"self", `{"nickname":`, 115)
	r.HandleEvent(context.Background(), evt)

	mirror.AssertNotCalled(t, "UpsertUser", mock.Anything, mock.Anything)
	assert.Empty(t, pub.events)
	assert.Equal(t, int64(115), fl.Cursor(), "cursor advances past malformed events")
}

func TestUnhandledCollectionDropped(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, _ := newTestRelay(t, mirror)

	evt := commitEvent("did:plc:user1", "social.psky.feed.post", jetstream.OpCreate,
		"post1", `{"post":"hi"}`, 116)
	r.HandleEvent(context.Background(), evt)

	assert.Empty(t, pub.events)
	mirror.AssertNotCalled(t, "InsertMessage", mock.Anything)
}

// TestRoomMessageRoomDeleteOrdering exercises the in-order guarantee:
// a room create, a message create into it, and the room delete arrive
// in sequence and each completes against the mirror before the next.
func TestRoomMessageRoomDeleteOrdering(t *testing.T) {
	mirror := new(database.MockMirror)
	r, pub, fl := newTestRelay(t, mirror)

	owner := &database.User{DID: "did:plc:owner", Handle: "owner.test", Active: true}
	room := &database.Room{URI: testRoomURI, OwnerDID: "did:plc:owner"}

	mirror.On("EnsureUser", "did:plc:owner").Return(owner, nil)
	mirror.On("InsertRoom", mock.Anything).Return(nil)
	mirror.On("GetUser", "did:plc:owner").Return(owner, nil)
	mirror.On("GetRoom", testRoomURI).Return(room, nil)
	mirror.On("InsertMessage", mock.Anything).Return(nil)
	mirror.On("DeleteRoom", testRoomURI).Return(nil)

	ctx := context.Background()
	r.HandleEvent(ctx, commitEvent("did:plc:owner", lexicon.NSIDRoom, jetstream.OpCreate,
		"room1", `{"name":"general"}`, 1))
	r.HandleEvent(ctx, commitEvent("did:plc:owner", lexicon.NSIDMessage, jetstream.OpCreate,
		"msg1", `{"content":"hi","room":"`+testRoomURI+`"}`, 2))
	r.HandleEvent(ctx, commitEvent("did:plc:owner", lexicon.NSIDRoom, jetstream.OpDelete,
		"room1", "", 3))

	mirror.AssertExpectations(t)
	assert.Equal(t, int64(3), fl.Cursor())
	require.Len(t, pub.events, 3)
	assert.IsType(t, &RoomEvent{}, pub.events[0])
	assert.IsType(t, &MessageEvent{}, pub.events[1])
	assert.IsType(t, &RoomDeleteEvent{}, pub.events[2])
}
