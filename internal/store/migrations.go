package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// Timestamps are stored as UTC unix nanoseconds so ordering is numeric.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	title              TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'open',
	employer_id        TEXT NOT NULL,
	assigned_worker_id TEXT NOT NULL DEFAULT '',
	updated_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	job_id           TEXT NOT NULL,
	employer_id      TEXT NOT NULL,
	worker_id        TEXT NOT NULL,
	sender_role      TEXT NOT NULL CHECK(sender_role IN ('employer', 'worker')),
	sender_id        TEXT NOT NULL,
	text             TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	read_by_employer INTEGER NOT NULL DEFAULT 0 CHECK(read_by_employer IN (0, 1)),
	read_by_worker   INTEGER NOT NULL DEFAULT 0 CHECK(read_by_worker IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_messages_job ON messages(job_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(job_id, employer_id, worker_id, created_at, seq);

CREATE TABLE IF NOT EXISTS conversations (
	job_id                 TEXT NOT NULL,
	employer_id            TEXT NOT NULL,
	worker_id              TEXT NOT NULL,
	last_message_text      TEXT NOT NULL DEFAULT '',
	last_message_at        INTEGER NOT NULL DEFAULT 0,
	last_message_sender_id TEXT NOT NULL DEFAULT '',
	unread_employer        INTEGER NOT NULL DEFAULT 0 CHECK(unread_employer >= 0),
	unread_worker          INTEGER NOT NULL DEFAULT 0 CHECK(unread_worker >= 0),
	job_title              TEXT NOT NULL DEFAULT '',
	job_status             TEXT NOT NULL DEFAULT '',
	created_at             INTEGER NOT NULL,
	updated_at             INTEGER NOT NULL,
	PRIMARY KEY (job_id, employer_id, worker_id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_employer ON conversations(employer_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_conversations_worker ON conversations(worker_id, updated_at);

CREATE TABLE IF NOT EXISTS notifications (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	recipient_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	category     TEXT NOT NULL,
	job_id       TEXT NOT NULL DEFAULT '',
	section      TEXT NOT NULL DEFAULT '',
	payload      TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	is_read      INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient
	ON notifications(recipient_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_unread
	ON notifications(recipient_id, is_read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
