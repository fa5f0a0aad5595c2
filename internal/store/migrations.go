package store

import "zombiezen.com/go/sqlite/sqlitemigration"

// schema is applied in order; append new migrations, never edit old ones.
var schema = sqlitemigration.Schema{
	Migrations: []string{
		`CREATE TABLE checks (
			id               TEXT PRIMARY KEY,
			platform         TEXT NOT NULL,
			target           TEXT NOT NULL,
			target_id        TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			progress         INTEGER NOT NULL DEFAULT 0,
			total_following  INTEGER NOT NULL DEFAULT 0,
			total_followers  INTEGER NOT NULL DEFAULT 0,
			total_non_mutual INTEGER NOT NULL DEFAULT 0,
			error_reason     TEXT NOT NULL DEFAULT '',
			error_message    TEXT NOT NULL DEFAULT '',
			cache_used       INTEGER NOT NULL DEFAULT 0,
			source_check_id  TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at       INTEGER NOT NULL,
			started_at       INTEGER,
			completed_at     INTEGER
		);
		CREATE INDEX checks_by_target ON checks (platform, target, status, completed_at);

		CREATE TABLE queue_entries (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			check_id    TEXT NOT NULL UNIQUE REFERENCES checks (id),
			status      TEXT NOT NULL,
			position    INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			started_at  INTEGER,
			finished_at INTEGER
		);
		CREATE INDEX queue_entries_by_status ON queue_entries (status, seq);

		CREATE TABLE checkpoints (
			check_id   TEXT NOT NULL,
			relation   TEXT NOT NULL,
			cursor     TEXT NOT NULL DEFAULT '',
			identities TEXT NOT NULL DEFAULT '[]',
			pages      INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL,
			version    INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (check_id, relation)
		);

		CREATE TABLE results (
			check_id     TEXT NOT NULL REFERENCES checks (id),
			ordinal      INTEGER NOT NULL,
			external_id  TEXT NOT NULL,
			handle       TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url   TEXT NOT NULL DEFAULT '',
			is_private   INTEGER NOT NULL DEFAULT 0,
			is_verified  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (check_id, ordinal)
		);

		CREATE TABLE session (
			id                   INTEGER PRIMARY KEY CHECK (id = 1),
			token                TEXT NOT NULL,
			csrf_token           TEXT NOT NULL DEFAULT '',
			user_id              TEXT NOT NULL DEFAULT '',
			valid                INTEGER NOT NULL DEFAULT 0,
			state                TEXT NOT NULL,
			created_at           INTEGER NOT NULL,
			last_used_at         INTEGER NOT NULL,
			next_refresh_at      INTEGER NOT NULL,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			refresh_attempts     INTEGER NOT NULL DEFAULT 0,
			last_error           TEXT NOT NULL DEFAULT ''
		);`,
	},
}
