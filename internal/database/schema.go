package database

// Schema contains the SQL statements for the mirror database. The three
// tables mirror the subscribed social.psky.* collections. Referential
// integrity is enforced here with cascading deletes: removing a user
// removes their rooms and messages, removing a room removes its messages.
const Schema = `
-- users: One row per DID observed on the firehose. The handle starts
-- out as the bare DID for users first seen through a message or room
-- commit; identity events replace it with the resolved handle.
CREATE TABLE IF NOT EXISTS users (
    did         VARCHAR(255) PRIMARY KEY,
    handle      VARCHAR(253) NOT NULL,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    nickname    TEXT,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- rooms: social.psky.chat.room records, keyed by AT-URI. The allowlist
-- and denylist columns hold the record's modlist refs as JSONB; they are
-- read back on every message arrival so moderation always sees the
-- current persisted state.
CREATE TABLE IF NOT EXISTS rooms (
    uri         VARCHAR(512) PRIMARY KEY,
    cid         VARCHAR(255) NOT NULL,
    owner_did   VARCHAR(255) NOT NULL REFERENCES users(did) ON DELETE CASCADE,
    name        TEXT,
    topic       TEXT,
    languages   JSONB,
    tags        JSONB,
    allowlist   JSONB,
    denylist    JSONB,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- messages: social.psky.chat.message records, keyed by AT-URI.
-- updated_at is NULL until the record is edited.
CREATE TABLE IF NOT EXISTS messages (
    uri         VARCHAR(512) PRIMARY KEY,
    cid         VARCHAR(255) NOT NULL,
    did         VARCHAR(255) NOT NULL REFERENCES users(did) ON DELETE CASCADE,
    content     TEXT NOT NULL,
    room        VARCHAR(512) NOT NULL REFERENCES rooms(uri) ON DELETE CASCADE,
    facets      JSONB,
    reply       JSONB,
    indexed_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, indexed_at DESC);
CREATE INDEX IF NOT EXISTS idx_rooms_owner ON rooms(owner_did);
`
