package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE messages (
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				seq         INTEGER NOT NULL,
				role        TEXT NOT NULL,
				speaker     TEXT NOT NULL,
				body        TEXT NOT NULL,
				search_text TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				PRIMARY KEY (session_id, seq)
			);

			CREATE INDEX idx_sessions_updated ON sessions (updated_at);
		`,
	},
	{
		Version: 2,
		Name:    "index message text with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				search_text,
				content='messages',
				content_rowid='rowid'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, search_text)
				VALUES (new.rowid, new.search_text);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, search_text)
				VALUES ('delete', old.rowid, old.search_text);
			END;
		`,
	},
}
