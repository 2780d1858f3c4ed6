// Package relay reconciles the social.psky.* firehose against the local
// mirror: it classifies each envelope, applies room moderation, performs
// the corresponding idempotent mirror mutation, advances the resume
// cursor, and republishes a normalized event to local subscribers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/ipfs/go-cid"

	"github.com/psky-chat/psky-relay/internal/cursor"
	"github.com/psky-chat/psky-relay/internal/database"
	"github.com/psky-chat/psky-relay/internal/jetstream"
	"github.com/psky-chat/psky-relay/internal/lexicon"
)

// Publisher is the fan-out sink for normalized events.
type Publisher interface {
	Publish(v any)
}

// Relay is the reconciliation engine. It implements jetstream.Handler
// and is driven by a single consumer goroutine: each event is fully
// handled before the next is read, which preserves the causal ordering
// of creates, updates, and deletes for the same resource.
//
// No handler error aborts the stream. Failures are logged with the
// offending payload and the engine moves on to the next event.
type Relay struct {
	mirror  database.Mirror
	pub     Publisher
	flusher *cursor.Flusher

	now func() time.Time
}

// New creates a Relay over the given mirror, fan-out sink, and cursor
// flusher.
func New(mirror database.Mirror, pub Publisher, flusher *cursor.Flusher) *Relay {
	return &Relay{
		mirror:  mirror,
		pub:     pub,
		flusher: flusher,
		now:     time.Now,
	}
}

// ResumeCursor supplies the subscription cursor for the next
// (re)connect.
func (r *Relay) ResumeCursor() int64 {
	return r.flusher.Cursor()
}

// ConnectionOpened starts the periodic cursor flush.
func (r *Relay) ConnectionOpened() {
	r.flusher.Start()
}

// ConnectionClosed halts the periodic cursor flush until reconnect.
func (r *Relay) ConnectionClosed() {
	r.flusher.Stop()
}

// HandleEvent processes one firehose envelope. The cursor advances even
// when handling fails: a poison event must not wedge the stream, and
// redelivering it would fail the same way.
func (r *Relay) HandleEvent(ctx context.Context, evt *jetstream.Event) {
	if err := r.dispatch(ctx, evt); err != nil {
		raw, _ := json.Marshal(evt)
		log.Printf("Error handling event: %v (%s)", err, raw)
	}
	r.flusher.Set(evt.TimeUS)
}

// dispatch routes an envelope to its handler. The (kind, collection)
// space is closed; anything outside it is logged and dropped.
func (r *Relay) dispatch(ctx context.Context, evt *jetstream.Event) error {
	if _, err := syntax.ParseDID(evt.DID); err != nil {
		return fmt.Errorf("relay: invalid did %q: %w", evt.DID, err)
	}

	switch evt.Kind {
	case jetstream.KindIdentity:
		return r.handleIdentity(ctx, evt)
	case jetstream.KindAccount:
		return r.handleAccount(ctx, evt)
	case jetstream.KindCommit:
		if evt.Commit == nil {
			return fmt.Errorf("relay: commit envelope without commit body")
		}
		switch evt.Commit.Collection {
		case lexicon.NSIDProfile:
			return r.handleProfile(ctx, evt)
		case lexicon.NSIDMessage:
			return r.handleMessage(ctx, evt)
		case lexicon.NSIDRoom:
			return r.handleRoom(ctx, evt)
		default:
			log.Printf("Dropping commit for unhandled collection %q", evt.Commit.Collection)
			return nil
		}
	default:
		log.Printf("Dropping event of unhandled kind %q", evt.Kind)
		return nil
	}
}

// recordURI derives the stable AT-URI of a record from its commit
// envelope. No lookup is needed: the identity, collection, and record
// key fully determine it.
func recordURI(did string, c *jetstream.Commit) string {
	return fmt.Sprintf("at://%s/%s/%s", did, c.Collection, c.RKey)
}

// validCID checks the content identifier carried on a create or update.
func validCID(c *jetstream.Commit) error {
	if _, err := cid.Decode(c.CID); err != nil {
		return fmt.Errorf("relay: invalid cid %q: %w", c.CID, err)
	}
	return nil
}

// handleProfile applies a social.psky.actor.profile commit. Deleting a
// profile removes the user entirely, cascading to their rooms and
// messages; create and update upsert the user row.
func (r *Relay) handleProfile(ctx context.Context, evt *jetstream.Event) error {
	c := evt.Commit
	if c.Operation == jetstream.OpDelete {
		return r.mirror.DeleteUser(ctx, evt.DID)
	}

	if err := validCID(c); err != nil {
		return err
	}
	var profile lexicon.Profile
	if err := json.Unmarshal(c.Record, &profile); err != nil {
		return fmt.Errorf("relay: decode profile record: %w", err)
	}
	_, err := r.mirror.UpsertUser(ctx, evt.DID, &profile)
	return err
}

// handleMessage applies a social.psky.chat.message commit.
func (r *Relay) handleMessage(ctx context.Context, evt *jetstream.Event) error {
	c := evt.Commit
	uri := recordURI(evt.DID, c)

	if c.Operation == jetstream.OpDelete {
		room, err := r.mirror.DeleteMessage(ctx, uri)
		if err != nil {
			return err
		}
		r.pub.Publish(&MessageDeleteEvent{
			Type: TypeMessageDelete,
			DID:  evt.DID,
			RKey: c.RKey,
			Room: room,
		})
		return nil
	}

	if err := validCID(c); err != nil {
		return err
	}

	// The author must exist before the message row for the foreign key.
	user, err := r.mirror.GetUser(ctx, evt.DID)
	if errors.Is(err, database.ErrNotFound) {
		user, err = r.mirror.EnsureUser(ctx, evt.DID)
	}
	if err != nil {
		return err
	}

	var rec lexicon.Message
	if err := json.Unmarshal(c.Record, &rec); err != nil {
		return fmt.Errorf("relay: decode message record: %w", err)
	}
	if _, err := syntax.ParseATURI(rec.Room); err != nil {
		return fmt.Errorf("relay: message %s has invalid room uri %q: %w", uri, rec.Room, err)
	}

	room, err := r.mirror.GetRoom(ctx, rec.Room)
	if errors.Is(err, database.ErrNotFound) {
		// Room not mirrored yet. Best effort: drop rather than fetch.
		log.Printf("Dropping message %s: room %s not mirrored", uri, rec.Room)
		return nil
	}
	if err != nil {
		return err
	}

	if !admitted(room, evt.DID) {
		log.Printf("Message ignored from %s in %s", evt.DID, room.URI)
		return nil
	}

	now := r.now()
	msg := &database.Message{
		URI:       uri,
		CID:       c.CID,
		DID:       evt.DID,
		Content:   rec.Content,
		Room:      rec.Room,
		Facets:    rec.Facets,
		Reply:     rec.Reply,
		IndexedAt: now,
	}
	out := &MessageEvent{
		DID:       evt.DID,
		RKey:      c.RKey,
		CID:       c.CID,
		Content:   rec.Content,
		Room:      rec.Room,
		Facets:    rec.Facets,
		Reply:     rec.Reply,
		Handle:    user.Handle,
		Nickname:  user.Nickname,
		IndexedAt: now.UnixMilli(),
	}

	switch c.Operation {
	case jetstream.OpCreate:
		if err := r.mirror.InsertMessage(ctx, msg); err != nil {
			return err
		}
		out.Type = TypeMessageCreate
	case jetstream.OpUpdate:
		ts := now
		msg.UpdatedAt = &ts
		if err := r.mirror.UpdateMessage(ctx, msg); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				log.Printf("Dropping update for unmirrored message %s", uri)
				return nil
			}
			return err
		}
		out.Type = TypeMessageUpdate
		ms := now.UnixMilli()
		out.UpdatedAt = &ms
	default:
		return fmt.Errorf("relay: unknown operation %q for %s", c.Operation, uri)
	}

	r.pub.Publish(out)
	return nil
}

// handleRoom applies a social.psky.chat.room commit.
func (r *Relay) handleRoom(ctx context.Context, evt *jetstream.Event) error {
	c := evt.Commit
	uri := recordURI(evt.DID, c)

	if c.Operation == jetstream.OpDelete {
		// Cascades to the room's messages.
		if err := r.mirror.DeleteRoom(ctx, uri); err != nil {
			return err
		}
		r.pub.Publish(&RoomDeleteEvent{
			Type: TypeRoomDelete,
			DID:  evt.DID,
			RKey: c.RKey,
			URI:  uri,
		})
		return nil
	}

	if err := validCID(c); err != nil {
		return err
	}
	var rec lexicon.Room
	if err := json.Unmarshal(c.Record, &rec); err != nil {
		return fmt.Errorf("relay: decode room record: %w", err)
	}

	// The owner row must exist before the room row for the foreign key.
	if _, err := r.mirror.EnsureUser(ctx, evt.DID); err != nil {
		return err
	}

	room := &database.Room{
		URI:       uri,
		CID:       c.CID,
		OwnerDID:  evt.DID,
		Name:      rec.Name,
		Topic:     rec.Topic,
		Languages: rec.Languages,
		Tags:      rec.Tags,
		Allowlist: rec.Allowlist,
		Denylist:  rec.Denylist,
	}

	var typ string
	switch c.Operation {
	case jetstream.OpCreate:
		if err := r.mirror.InsertRoom(ctx, room); err != nil {
			return err
		}
		typ = TypeRoomCreate
	case jetstream.OpUpdate:
		if err := r.mirror.UpdateRoom(ctx, room); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				log.Printf("Dropping update for unmirrored room %s", uri)
				return nil
			}
			return err
		}
		typ = TypeRoomUpdate
	default:
		return fmt.Errorf("relay: unknown operation %q for %s", c.Operation, uri)
	}

	r.pub.Publish(&RoomEvent{
		Type:      typ,
		DID:       evt.DID,
		RKey:      c.RKey,
		URI:       uri,
		CID:       c.CID,
		Name:      rec.Name,
		Topic:     rec.Topic,
		Languages: rec.Languages,
		Tags:      rec.Tags,
	})
	return nil
}

// handleIdentity applies a handle change to an already-known user.
// Unknown DIDs are ignored; the mirror only tracks identities it has
// seen records from.
func (r *Relay) handleIdentity(ctx context.Context, evt *jetstream.Event) error {
	id := evt.Identity
	if id == nil {
		return fmt.Errorf("relay: identity envelope without identity body")
	}

	user, err := r.mirror.GetUser(ctx, evt.DID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if id.Handle != "" && id.Handle != user.Handle {
		if err := r.mirror.UpdateUserHandle(ctx, evt.DID, id.Handle); err != nil {
			return err
		}
		log.Printf("Updated %s: %s -> %s", user.DID, user.Handle, id.Handle)
	}
	return nil
}

// handleAccount applies an account-lifecycle change to an already-known
// user: deletion cascades the user away, a takedown or suspension marks
// them inactive, and reactivation clears the flag.
func (r *Relay) handleAccount(ctx context.Context, evt *jetstream.Event) error {
	acct := evt.Account
	if acct == nil {
		return fmt.Errorf("relay: account envelope without account body")
	}

	user, err := r.mirror.GetUser(ctx, evt.DID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	status := ""
	if acct.Status != nil {
		status = *acct.Status
	}

	switch {
	case !acct.Active && status == jetstream.StatusDeleted:
		if err := r.mirror.DeleteUser(ctx, evt.DID); err != nil {
			return err
		}
		log.Printf("Deleted account: %s", evt.DID)
	case !acct.Active && status != "":
		if err := r.mirror.SetUserActive(ctx, evt.DID, false); err != nil {
			return err
		}
		log.Printf("Disabled account (%s): %s", status, evt.DID)
	case acct.Active && !user.Active:
		if err := r.mirror.SetUserActive(ctx, evt.DID, true); err != nil {
			return err
		}
		log.Printf("Reactivated account: %s", evt.DID)
	}
	return nil
}
