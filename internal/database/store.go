package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psky-chat/psky-relay/internal/lexicon"
)

// ErrNotFound is returned by lookups and updates that match no row.
var ErrNotFound = errors.New("database: not found")

// Store implements Mirror against the PostgreSQL pool.
//
// Mutations are written to tolerate at-least-once delivery from the
// firehose: inserts are upserts keyed on the natural identifier, and
// deletes of absent rows succeed as no-ops. The relay replays recent
// events after a restart and relies on these semantics.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Users ---

const userColumns = `did, handle, active, nickname, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.DID, &u.Handle, &u.Active, &u.Nickname, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database: scan user: %w", err)
	}
	return &u, nil
}

// GetUser returns the user row for a DID. Returns ErrNotFound if the
// DID has not been mirrored.
func (s *Store) GetUser(ctx context.Context, did string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE did = $1`, did))
}

// UpsertUser creates or updates a user from a profile record. The
// nickname always takes the record's value, so removing it from the
// profile clears it here. A freshly created row starts active with the
// bare DID as its handle until an identity event resolves it.
func (s *Store) UpsertUser(ctx context.Context, did string, profile *lexicon.Profile) (*User, error) {
	var nickname *string
	if profile != nil {
		nickname = profile.Nickname
	}
	return scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (did, handle, nickname)
		 VALUES ($1, $1, $2)
		 ON CONFLICT (did) DO UPDATE
		   SET nickname = EXCLUDED.nickname, updated_at = NOW()
		 RETURNING `+userColumns,
		did, nickname))
}

// EnsureUser returns the user row for a DID, creating a minimal stub if
// none exists. Existing rows are returned untouched.
func (s *Store) EnsureUser(ctx context.Context, did string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (did, handle) VALUES ($1, $1)
		 ON CONFLICT (did) DO UPDATE SET did = users.did
		 RETURNING `+userColumns,
		did))
}

// UpdateUserHandle replaces a user's handle and stamps updated_at.
func (s *Store) UpdateUserHandle(ctx context.Context, did, handle string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE users SET handle = $2, updated_at = NOW() WHERE did = $1`,
		did, handle)
	if err != nil {
		return fmt.Errorf("database: update handle: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, did)
	}
	return nil
}

// SetUserActive flips the account-status flag.
func (s *Store) SetUserActive(ctx context.Context, did string, active bool) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE users SET active = $2, updated_at = NOW() WHERE did = $1`,
		did, active)
	if err != nil {
		return fmt.Errorf("database: set active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, did)
	}
	return nil
}

// DeleteUser removes a user row. The schema cascades the delete to the
// user's rooms and messages. Deleting an absent user is a no-op.
func (s *Store) DeleteUser(ctx context.Context, did string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM users WHERE did = $1`, did); err != nil {
		return fmt.Errorf("database: delete user: %w", err)
	}
	return nil
}

// --- Rooms ---

const roomColumns = `uri, cid, owner_did, name, topic, languages, tags, allowlist, denylist, updated_at`

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	err := row.Scan(&r.URI, &r.CID, &r.OwnerDID, &r.Name, &r.Topic,
		&r.Languages, &r.Tags, &r.Allowlist, &r.Denylist, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: room", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database: scan room: %w", err)
	}
	return &r, nil
}

// GetRoom returns the room row for an AT-URI. Returns ErrNotFound if
// the room has not been mirrored.
func (s *Store) GetRoom(ctx context.Context, uri string) (*Room, error) {
	return scanRoom(s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE uri = $1`, uri))
}

// InsertRoom writes a room row. Re-delivered creates overwrite the
// existing row with the same content rather than failing.
func (s *Store) InsertRoom(ctx context.Context, room *Room) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (uri, cid, owner_did, name, topic, languages, tags, allowlist, denylist, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (uri) DO UPDATE SET
		   cid = EXCLUDED.cid, name = EXCLUDED.name, topic = EXCLUDED.topic,
		   languages = EXCLUDED.languages, tags = EXCLUDED.tags,
		   allowlist = EXCLUDED.allowlist, denylist = EXCLUDED.denylist,
		   updated_at = NOW()`,
		room.URI, room.CID, room.OwnerDID, room.Name, room.Topic,
		room.Languages, room.Tags, room.Allowlist, room.Denylist)
	if err != nil {
		return fmt.Errorf("database: insert room: %w", err)
	}
	return nil
}

// UpdateRoom updates an existing room row. Returns ErrNotFound if the
// room is not mirrored; the owner_did column is immutable and not touched.
func (s *Store) UpdateRoom(ctx context.Context, room *Room) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE rooms SET
		   cid = $2, name = $3, topic = $4, languages = $5, tags = $6,
		   allowlist = $7, denylist = $8, updated_at = NOW()
		 WHERE uri = $1`,
		room.URI, room.CID, room.Name, room.Topic,
		room.Languages, room.Tags, room.Allowlist, room.Denylist)
	if err != nil {
		return fmt.Errorf("database: update room: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: room %s", ErrNotFound, room.URI)
	}
	return nil
}

// DeleteRoom removes a room row, cascading to its messages. Deleting an
// absent room is a no-op.
func (s *Store) DeleteRoom(ctx context.Context, uri string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE uri = $1`, uri); err != nil {
		return fmt.Errorf("database: delete room: %w", err)
	}
	return nil
}

// ListRooms returns rooms ordered by most recently updated.
func (s *Store) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roomColumns+` FROM rooms
		 ORDER BY updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("database: list rooms: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// --- Messages ---

// InsertMessage writes a message row. A re-delivered create of an
// already-mirrored URI is a no-op.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (uri, cid, did, content, room, facets, reply, indexed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (uri) DO NOTHING`,
		msg.URI, msg.CID, msg.DID, msg.Content, msg.Room,
		msg.Facets, msg.Reply, msg.IndexedAt)
	if err != nil {
		return fmt.Errorf("database: insert message: %w", err)
	}
	return nil
}

// UpdateMessage replaces the mutable fields of a message and stamps
// updated_at. Returns ErrNotFound if the URI is not mirrored.
func (s *Store) UpdateMessage(ctx context.Context, msg *Message) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE messages SET
		   cid = $2, content = $3, facets = $4, reply = $5, updated_at = NOW()
		 WHERE uri = $1`,
		msg.URI, msg.CID, msg.Content, msg.Facets, msg.Reply)
	if err != nil {
		return fmt.Errorf("database: update message: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, msg.URI)
	}
	return nil
}

// DeleteMessage removes a message by URI and returns the AT-URI of the
// room it belonged to, for the deletion notification. Deleting an
// absent message is a no-op and returns an empty room URI.
func (s *Store) DeleteMessage(ctx context.Context, uri string) (string, error) {
	var room string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM messages WHERE uri = $1 RETURNING room`, uri).Scan(&room)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("database: delete message: %w", err)
	}
	return room, nil
}

// ListMessages returns a room's messages joined with author identity,
// newest first.
func (s *Store) ListMessages(ctx context.Context, room string, limit, offset int) ([]MessageView, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.uri, m.cid, m.did, m.content, m.room, m.facets, m.reply,
		        m.indexed_at, m.updated_at, u.handle, u.nickname
		 FROM messages m
		 JOIN users u ON m.did = u.did
		 WHERE m.room = $1
		 ORDER BY m.indexed_at DESC
		 LIMIT $2 OFFSET $3`,
		room, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("database: list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageView
	for rows.Next() {
		var v MessageView
		err := rows.Scan(&v.URI, &v.CID, &v.DID, &v.Content, &v.Room,
			&v.Facets, &v.Reply, &v.IndexedAt, &v.UpdatedAt,
			&v.Handle, &v.Nickname)
		if err != nil {
			return nil, fmt.Errorf("database: scan message: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
