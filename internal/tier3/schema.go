package tier3

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding BLOB,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed_at INTEGER,
	relevance_score REAL NOT NULL DEFAULT 1.0,
	pinned INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS memory_tags (
	memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (memory_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);
CREATE INDEX IF NOT EXISTS idx_memories_pinned ON memories(pinned);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	doc_id UNINDEXED,
	content,
	tokenize = 'porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(doc_id, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
	DELETE FROM memories_fts WHERE doc_id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE OF content ON memories BEGIN
	DELETE FROM memories_fts WHERE doc_id = old.id;
	INSERT INTO memories_fts(doc_id, content) VALUES (new.id, new.content);
END;

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`
