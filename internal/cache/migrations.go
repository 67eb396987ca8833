package cache

// Migration is one idempotent, versioned step in building the cache schema.
// Migrations are applied in ascending Version order inside a single
// transaction each; a migrations table records which have run so that
// schema initialization is safe to repeat on every startup.
type Migration struct {
	Version int
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		SQL: `
CREATE TABLE accounts (
	id                      TEXT PRIMARY KEY,
	display_name            TEXT NOT NULL,
	email                    TEXT NOT NULL UNIQUE,
	imap_host                TEXT NOT NULL,
	imap_port                INTEGER NOT NULL,
	imap_tls_mode            TEXT NOT NULL,
	smtp_host                TEXT NOT NULL,
	smtp_port                INTEGER NOT NULL,
	smtp_tls_mode            TEXT NOT NULL,
	pop3_host                TEXT,
	pop3_port                INTEGER,
	pop3_tls_mode            TEXT,
	pop3_delete_on_server    INTEGER NOT NULL DEFAULT 0,
	username                 TEXT NOT NULL,
	sealed_password          BLOB,
	auth_type                TEXT NOT NULL DEFAULT 'password',
	enabled                  INTEGER NOT NULL DEFAULT 1,
	is_active                INTEGER NOT NULL DEFAULT 0,
	check_interval_minutes   INTEGER NOT NULL DEFAULT 5,
	provider_tag             TEXT,
	color                    TEXT NOT NULL DEFAULT '#4A90D9',
	last_sync_at             DATETIME,
	created_at               DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at               DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE folders (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name             TEXT NOT NULL,
	path             TEXT NOT NULL,
	type             TEXT NOT NULL DEFAULT 'custom',
	unread_count     INTEGER NOT NULL DEFAULT 0,
	total_count      INTEGER NOT NULL DEFAULT 0,
	uid_validity     INTEGER NOT NULL DEFAULT 0,
	uid_next         INTEGER NOT NULL DEFAULT 0,
	highest_uid_seen INTEGER NOT NULL DEFAULT 0,
	highest_mod_seq  INTEGER NOT NULL DEFAULT 0,
	last_sync        DATETIME,
	UNIQUE(account_id, path)
);
CREATE INDEX idx_folders_account ON folders(account_id);

CREATE TABLE messages (
	local_id         TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder_id        TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	uid              INTEGER NOT NULL,
	message_id       TEXT,
	thread_id        TEXT,
	in_reply_to      TEXT,
	references_list  TEXT,
	subject          TEXT NOT NULL DEFAULT '',
	from_name        TEXT NOT NULL DEFAULT '',
	from_email       TEXT NOT NULL DEFAULT '',
	to_list          TEXT,
	cc_list          TEXT,
	bcc_list         TEXT,
	date_utc         DATETIME NOT NULL,
	body_plain       TEXT,
	body_html        TEXT,
	body_fetched     INTEGER NOT NULL DEFAULT 0,
	seen             INTEGER NOT NULL DEFAULT 0,
	flagged          INTEGER NOT NULL DEFAULT 0,
	deleted          INTEGER NOT NULL DEFAULT 0,
	draft            INTEGER NOT NULL DEFAULT 0,
	answered         INTEGER NOT NULL DEFAULT 0,
	size             INTEGER NOT NULL DEFAULT 0,
	has_attachments  INTEGER NOT NULL DEFAULT 0,
	snippet          TEXT,
	UNIQUE(account_id, folder_id, uid)
);
CREATE INDEX idx_messages_account_folder_uid ON messages(account_id, folder_id, uid);
CREATE INDEX idx_messages_thread ON messages(account_id, thread_id);

CREATE VIRTUAL TABLE messages_fts USING fts5(
	subject, from_name, from_email, body_plain,
	content='messages', content_rowid='rowid'
);
CREATE TRIGGER messages_fts_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, subject, from_name, from_email, body_plain)
	VALUES (new.rowid, new.subject, new.from_name, new.from_email, new.body_plain);
END;
CREATE TRIGGER messages_fts_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, subject, from_name, from_email, body_plain)
	VALUES ('delete', old.rowid, old.subject, old.from_name, old.from_email, old.body_plain);
END;
CREATE TRIGGER messages_fts_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, subject, from_name, from_email, body_plain)
	VALUES ('delete', old.rowid, old.subject, old.from_name, old.from_email, old.body_plain);
	INSERT INTO messages_fts(rowid, subject, from_name, from_email, body_plain)
	VALUES (new.rowid, new.subject, new.from_name, new.from_email, new.body_plain);
END;

CREATE TABLE attachments (
	local_id         TEXT PRIMARY KEY,
	message_local_id TEXT NOT NULL REFERENCES messages(local_id) ON DELETE CASCADE,
	filename         TEXT NOT NULL,
	mime             TEXT NOT NULL DEFAULT 'application/octet-stream',
	size             INTEGER NOT NULL DEFAULT 0,
	content_id       TEXT,
	bytes_ref        TEXT NOT NULL
);
CREATE INDEX idx_attachments_message ON attachments(message_local_id);
CREATE INDEX idx_attachments_bytes_ref ON attachments(bytes_ref);

CREATE TABLE drafts (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	to_list     TEXT,
	cc_list     TEXT,
	bcc_list    TEXT,
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	is_html     INTEGER NOT NULL DEFAULT 1,
	attachments TEXT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_drafts_account ON drafts(account_id);

CREATE TABLE outbox (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	to_list         TEXT NOT NULL,
	cc_list         TEXT,
	bcc_list        TEXT,
	from_address    TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	is_html         INTEGER NOT NULL DEFAULT 1,
	attachments     TEXT,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	next_attempt_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	sending         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_outbox_account ON outbox(account_id, created_at);

CREATE TABLE tags (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	color      TEXT NOT NULL DEFAULT '#888888',
	UNIQUE(account_id, name)
);
CREATE INDEX idx_tags_account ON tags(account_id);

CREATE TABLE message_tags (
	message_local_id TEXT NOT NULL REFERENCES messages(local_id) ON DELETE CASCADE,
	tag_id           TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (message_local_id, tag_id)
);

CREATE TABLE signatures (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	content_plain TEXT NOT NULL DEFAULT '',
	content_html  TEXT,
	is_default    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_signatures_account ON signatures(account_id);

CREATE TABLE contacts (
	id               TEXT PRIMARY KEY,
	account_id       TEXT REFERENCES accounts(id) ON DELETE CASCADE,
	display_name     TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL,
	first_name       TEXT,
	last_name        TEXT,
	organization     TEXT,
	notes            TEXT,
	usage_count      INTEGER NOT NULL DEFAULT 0,
	last_used_at     DATETIME,
	UNIQUE(account_id, email)
);
CREATE INDEX idx_contacts_account ON contacts(account_id);

CREATE TABLE contact_groups (
	id         TEXT PRIMARY KEY,
	account_id TEXT REFERENCES accounts(id) ON DELETE CASCADE,
	name       TEXT NOT NULL
);
CREATE TABLE contact_group_members (
	group_id   TEXT NOT NULL REFERENCES contact_groups(id) ON DELETE CASCADE,
	contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	PRIMARY KEY (group_id, contact_id)
);

CREATE TABLE rules (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	enabled         INTEGER NOT NULL DEFAULT 1,
	priority        INTEGER NOT NULL DEFAULT 0,
	condition_logic TEXT NOT NULL DEFAULT 'all',
	conditions      TEXT NOT NULL DEFAULT '[]',
	actions         TEXT NOT NULL DEFAULT '[]',
	stop_on_match   INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_rules_account ON rules(account_id, priority);

CREATE TABLE oauth_tokens (
	account_id            TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	provider_tag          TEXT NOT NULL,
	access_token_sealed   BLOB NOT NULL,
	refresh_token_sealed  BLOB,
	expires_at            DATETIME NOT NULL,
	scope                 TEXT,
	PRIMARY KEY (account_id, provider_tag)
);

CREATE TABLE settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL
);
`,
	},
}
