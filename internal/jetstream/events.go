// Package jetstream consumes a Jetstream firehose endpoint: a WebSocket
// stream of JSON envelopes describing repo commits, identity changes,
// and account-status changes, scoped to a set of collection prefixes
// and resumable from a time-based cursor.
package jetstream

import "encoding/json"

// Kind discriminates the envelope variants. The set is closed; anything
// else on the wire is dropped by the client.
type Kind string

const (
	KindCommit   Kind = "commit"
	KindIdentity Kind = "identity"
	KindAccount  Kind = "account"
)

// Operation is the mutation kind carried by a commit envelope.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Event is one firehose envelope. Exactly one of Commit, Identity, and
// Account is set, matching Kind. TimeUS doubles as the stream cursor.
type Event struct {
	DID    string `json:"did"`
	TimeUS int64  `json:"time_us"`
	Kind   Kind   `json:"kind"`

	Commit   *Commit   `json:"commit,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
	Account  *Account  `json:"account,omitempty"`
}

// Commit describes a single record mutation. Record and CID are only
// present for create and update operations.
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  Operation       `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

// Identity is an out-of-band handle-change notification.
type Identity struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

// Account is an out-of-band account-lifecycle notification. Status is
// set when Active is false (e.g. "takendown", "suspended", "deleted").
type Account struct {
	DID    string  `json:"did"`
	Active bool    `json:"active"`
	Status *string `json:"status,omitempty"`
	Seq    int64   `json:"seq"`
	Time   string  `json:"time"`
}

// StatusDeleted is the account status that signals permanent removal.
const StatusDeleted = "deleted"
