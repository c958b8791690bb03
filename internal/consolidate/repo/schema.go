package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// DDL shared by postgres and sqlite: TEXT ksuid primary keys, timestamps as
// RFC3339 text, booleans as 0/1 integers. Values are set in Go so no
// database-specific defaults are needed.
const ddl = `
CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	primary_key TEXT NOT NULL UNIQUE,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_identities_email ON identities (email);

CREATE TABLE IF NOT EXISTS presences (
	id TEXT PRIMARY KEY,
	identity_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	import_id TEXT NOT NULL,
	raw_record_ref TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	last_seen_at TEXT,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	UNIQUE (identity_id, source_id, import_id)
);
CREATE INDEX IF NOT EXISTS idx_presences_identity ON presences (identity_id);
CREATE INDEX IF NOT EXISTS idx_presences_source ON presences (source_id);

CREATE TABLE IF NOT EXISTS raw_records (
	ref TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	import_id TEXT NOT NULL,
	columns TEXT NOT NULL DEFAULT '[]',
	field_values TEXT NOT NULL DEFAULT '{}',
	imported_at TEXT NOT NULL,
	merged INTEGER NOT NULL DEFAULT 0,
	merged_into TEXT NOT NULL DEFAULT '',
	merged_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_raw_records_source ON raw_records (source_id);
`

// EnsureSchema creates the consolidation tables if they do not exist.
// Idempotent; a convenience for early development, prefer migrations in
// production.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, ddl)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
