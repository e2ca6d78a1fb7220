package chatstore

// Schema is the Postgres schema, applied on open in server mode.
//
// Timestamps are bound and scanned as fixed-width UTC text (see store.go);
// Postgres casts the text to timestamptz on write.
var Schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    channel_key TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    receiver_id TEXT NOT NULL,
    body TEXT NOT NULL,
    sender_role TEXT NOT NULL DEFAULT '',
    sent_at TIMESTAMP WITH TIME ZONE NOT NULL,
    read BOOLEAN NOT NULL DEFAULT FALSE,
    read_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS chat_channels (
    channel_key TEXT PRIMARY KEY,
    participant_a TEXT NOT NULL,
    participant_b TEXT NOT NULL,
    last_sender_id TEXT NOT NULL,
    last_body TEXT NOT NULL,
    last_sent_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_channel_sent_at ON chat_messages(channel_key, sent_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_unread ON chat_messages(channel_key, receiver_id, read);
CREATE INDEX IF NOT EXISTS idx_chat_channels_participant_a ON chat_channels(participant_a);
CREATE INDEX IF NOT EXISTS idx_chat_channels_participant_b ON chat_channels(participant_b);
`

// SchemaSQLite is the SQLite schema for local mode and unit tests. SQLite
// has no timestamp storage class; the fixed-width UTC text the store writes
// collates in chronological order, so ORDER BY sent_at stays correct.
var SchemaSQLite = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    channel_key TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    receiver_id TEXT NOT NULL,
    body TEXT NOT NULL,
    sender_role TEXT NOT NULL DEFAULT '',
    sent_at TEXT NOT NULL,
    read BOOLEAN NOT NULL DEFAULT FALSE,
    read_at TEXT
);

CREATE TABLE IF NOT EXISTS chat_channels (
    channel_key TEXT PRIMARY KEY,
    participant_a TEXT NOT NULL,
    participant_b TEXT NOT NULL,
    last_sender_id TEXT NOT NULL,
    last_body TEXT NOT NULL,
    last_sent_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_channel_sent_at ON chat_messages(channel_key, sent_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_unread ON chat_messages(channel_key, receiver_id, read);
CREATE INDEX IF NOT EXISTS idx_chat_channels_participant_a ON chat_channels(participant_a);
CREATE INDEX IF NOT EXISTS idx_chat_channels_participant_b ON chat_channels(participant_b);
`
