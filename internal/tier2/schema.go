package tier2

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed_at INTEGER,
	pinned INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS memory_tags (
	memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (memory_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

CREATE TABLE IF NOT EXISTS project_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

-- FTS5 shadow table. doc_id is UNINDEXED so it is stored but not searched;
-- content carries the porter+unicode61-stemmed text. Kept in sync with the
-- memories table by the triggers below rather than FTS5's external-content
-- mechanism, because memories.id is a TEXT primary key rather than a rowid.
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
