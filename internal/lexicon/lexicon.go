// Package lexicon defines the social.psky.* record payloads this relay
// mirrors. The types match the published lexicon schemas; fields the
// relay does not index are omitted.
package lexicon

import "encoding/json"

// Collection NSIDs covered by the subscription.
const (
	NSIDProfile = "social.psky.actor.profile"
	NSIDRoom    = "social.psky.chat.room"
	NSIDMessage = "social.psky.chat.message"
)

// WantedCollections is the subscription scope. Everything under the
// social.psky namespace is delivered; the relay dispatches on the
// three NSIDs above and drops the rest.
const WantedCollections = "social.psky.*"

// Profile is a social.psky.actor.profile record.
type Profile struct {
	Nickname *string `json:"nickname,omitempty"`
}

// ModlistRef is a room-scoped moderation list: a set of DIDs plus an
// active flag. An inactive list is retained but not enforced.
type ModlistRef struct {
	Active bool     `json:"active"`
	Users  []string `json:"users"`
}

// Room is a social.psky.chat.room record.
type Room struct {
	Name      *string     `json:"name,omitempty"`
	Topic     *string     `json:"topic,omitempty"`
	Languages []string    `json:"languages,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
	Allowlist *ModlistRef `json:"allowlist,omitempty"`
	Denylist  *ModlistRef `json:"denylist,omitempty"`
}

// StrongRef is a com.atproto.repo.strongRef: a URI paired with the CID
// of the referenced record revision.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Message is a social.psky.chat.message record. Facets are kept as raw
// JSON; the relay stores and republishes them without interpretation.
type Message struct {
	Content string          `json:"content"`
	Room    string          `json:"room"`
	Facets  json.RawMessage `json:"facets,omitempty"`
	Reply   *StrongRef      `json:"reply,omitempty"`
}
