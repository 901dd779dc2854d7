package store

// Statements are split on ';' before execution, so none may contain one inside a literal.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_users (
    id TEXT PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY, -- UUID
    user_id TEXT,
    guest_id TEXT,
    title TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id)
);

CREATE INDEX IF NOT EXISTS idx_chats_user ON chats (user_id);
CREATE INDEX IF NOT EXISTS idx_chats_guest ON chats (guest_id);

CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT UNIQUE NOT NULL, -- UUID
    chat_id TEXT NOT NULL,
    content TEXT NOT NULL,
    image_url TEXT,
    is_ai BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (chat_id) REFERENCES chats (id)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, seq);

CREATE TABLE IF NOT EXISTS custom_model_configs (
    mode_key TEXT PRIMARY KEY,
    base_prompt TEXT NOT NULL,
    event_triggers TEXT NOT NULL DEFAULT '[]',
    random_injections TEXT NOT NULL DEFAULT '[]',
    updated_at DATETIME NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_users (
    id TEXT PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    user_id TEXT REFERENCES users (id),
    guest_id TEXT,
    title TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_user ON chats (user_id);
CREATE INDEX IF NOT EXISTS idx_chats_guest ON chats (guest_id);

CREATE TABLE IF NOT EXISTS messages (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT UNIQUE NOT NULL,
    chat_id TEXT NOT NULL REFERENCES chats (id),
    content TEXT NOT NULL,
    image_url TEXT,
    is_ai BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, seq);

CREATE TABLE IF NOT EXISTS custom_model_configs (
    mode_key TEXT PRIMARY KEY,
    base_prompt TEXT NOT NULL,
    event_triggers TEXT NOT NULL DEFAULT '[]',
    random_injections TEXT NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL
);
`
