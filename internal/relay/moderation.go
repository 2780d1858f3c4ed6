package relay

import (
	"slices"

	"github.com/psky-chat/psky-relay/internal/database"
)

// admitted decides whether an author may post in a room, given the
// room's current persisted moderation lists.
//
// The owner always posts, bypassing both lists. A non-owner is rejected
// if an active allowlist exists without them, or if an active denylist
// contains them; both lists can be active at once and rejection by
// either is final.
func admitted(room *database.Room, did string) bool {
	if did == room.OwnerDID {
		return true
	}
	if l := room.Allowlist; l != nil && l.Active && !slices.Contains(l.Users, did) {
		return false
	}
	if l := room.Denylist; l != nil && l.Active && slices.Contains(l.Users, did) {
		return false
	}
	return true
}
