package relay

import (
	"encoding/json"

	"github.com/psky-chat/psky-relay/internal/lexicon"
)

// Outbound $type tags. These are the contract the WebSocket serving
// layer depends on: one tagged JSON object per admitted firehose event.
const (
	TypeMessageCreate = lexicon.NSIDMessage + "#create"
	TypeMessageUpdate = lexicon.NSIDMessage + "#update"
	TypeMessageDelete = lexicon.NSIDMessage + "#delete"
	TypeRoomCreate    = lexicon.NSIDRoom + "#create"
	TypeRoomUpdate    = lexicon.NSIDRoom + "#update"
	TypeRoomDelete    = lexicon.NSIDRoom + "#delete"
)

// MessageEvent is the normalized notification for an admitted message
// create or update. Timestamps are epoch milliseconds; UpdatedAt is set
// only for updates.
type MessageEvent struct {
	Type      string             `json:"$type"`
	DID       string             `json:"did"`
	RKey      string             `json:"rkey"`
	CID       string             `json:"cid"`
	Content   string             `json:"content"`
	Room      string             `json:"room"`
	Facets    json.RawMessage    `json:"facets,omitempty"`
	Reply     *lexicon.StrongRef `json:"reply,omitempty"`
	Handle    string             `json:"handle"`
	Nickname  *string            `json:"nickname,omitempty"`
	IndexedAt int64              `json:"indexedAt"`
	UpdatedAt *int64             `json:"updatedAt,omitempty"`
}

// MessageDeleteEvent is the notification for a message deletion. Room
// is empty when the message was never mirrored.
type MessageDeleteEvent struct {
	Type string `json:"$type"`
	DID  string `json:"did"`
	RKey string `json:"rkey"`
	Room string `json:"room,omitempty"`
}

// RoomEvent is the normalized notification for a room create or update.
type RoomEvent struct {
	Type      string   `json:"$type"`
	DID       string   `json:"did"`
	RKey      string   `json:"rkey"`
	URI       string   `json:"uri"`
	CID       string   `json:"cid"`
	Name      *string  `json:"name,omitempty"`
	Topic     *string  `json:"topic,omitempty"`
	Languages []string `json:"languages,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// RoomDeleteEvent is the notification for a room deletion.
type RoomDeleteEvent struct {
	Type string `json:"$type"`
	DID  string `json:"did"`
	RKey string `json:"rkey"`
	URI  string `json:"uri"`
}
