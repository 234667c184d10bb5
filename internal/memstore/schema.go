package memstore

// Schema statements, split by migration version.

const schemaV1 = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'deleted', 'superseded')),
	pinned INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_scope_hash_active
	ON memories(scope, content_hash) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS idx_memories_scope_status_updated
	ON memories(scope, status, updated_at DESC);

CREATE TABLE IF NOT EXISTS memory_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id TEXT NOT NULL,
	action TEXT NOT NULL CHECK (action IN ('added', 'deduped', 'deleted', 'pinned', 'unpinned')),
	timestamp TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}'
);
`

const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_memory_events_timestamp ON memory_events(timestamp);
`

const schemaV3 = `
CREATE TABLE IF NOT EXISTS compaction_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scope TEXT NOT NULL,
	mode TEXT NOT NULL,
	input_chars INTEGER NOT NULL,
	output_chars INTEGER NOT NULL,
	source_count INTEGER NOT NULL,
	model TEXT,
	reason TEXT,
	details_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
`

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);
`

const ftsCreateStatement = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	id UNINDEXED,
	scope UNINDEXED,
	category UNINDEXED,
	content
);
`
