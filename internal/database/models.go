package database

import (
	"encoding/json"
	"time"

	"github.com/psky-chat/psky-relay/internal/lexicon"
)

// User is a row in the users table.
type User struct {
	DID       string    `json:"did"`
	Handle    string    `json:"handle"`
	Active    bool      `json:"active"`
	Nickname  *string   `json:"nickname,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Room is a row in the rooms table. The moderation lists are stored as
// JSONB and round-trip through the lexicon types unchanged.
type Room struct {
	URI       string              `json:"uri"`
	CID       string              `json:"cid"`
	OwnerDID  string              `json:"owner"`
	Name      *string             `json:"name,omitempty"`
	Topic     *string             `json:"topic,omitempty"`
	Languages []string            `json:"languages,omitempty"`
	Tags      []string            `json:"tags,omitempty"`
	Allowlist *lexicon.ModlistRef `json:"allowlist,omitempty"`
	Denylist  *lexicon.ModlistRef `json:"denylist,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Message is a row in the messages table. UpdatedAt is nil until the
// record is edited.
type Message struct {
	URI       string             `json:"uri"`
	CID       string             `json:"cid"`
	DID       string             `json:"did"`
	Content   string             `json:"content"`
	Room      string             `json:"room"`
	Facets    json.RawMessage    `json:"facets,omitempty"`
	Reply     *lexicon.StrongRef `json:"reply,omitempty"`
	IndexedAt time.Time          `json:"indexedAt"`
	UpdatedAt *time.Time         `json:"updatedAt,omitempty"`
}

// MessageView is a message joined with its author's current handle and
// nickname, as served by the read API.
type MessageView struct {
	Message
	Handle   string  `json:"handle"`
	Nickname *string `json:"nickname,omitempty"`
}
