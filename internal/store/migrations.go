package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "patterns: learned corrections with usage statistics",
		SQL: `
CREATE TABLE patterns (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    pattern_text    TEXT NOT NULL,
    correction_text TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    last_used       INTEGER,
    use_count       INTEGER NOT NULL DEFAULT 0 CHECK (use_count >= 0),
    success_count   INTEGER NOT NULL DEFAULT 0 CHECK (success_count >= 0),
    failure_count   INTEGER NOT NULL DEFAULT 0 CHECK (failure_count >= 0)
);

CREATE INDEX idx_patterns_created_at ON patterns(created_at);

CREATE TABLE favorites (
    pattern_id INTEGER PRIMARY KEY,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (pattern_id) REFERENCES patterns(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     2,
		Description: "merge_history: append-only merge audit",
		SQL: `
CREATE TABLE merge_history (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    merged_at         INTEGER NOT NULL,
    survivor_id       INTEGER NOT NULL,
    absorbed_ids      TEXT NOT NULL,
    similarity        REAL NOT NULL,
    group_size        INTEGER NOT NULL,
    total_uses_before INTEGER NOT NULL,
    total_uses_after  INTEGER NOT NULL
);

CREATE INDEX idx_merge_history_merged_at ON merge_history(merged_at DESC);
`,
	},
	{
		Version:     3,
		Description: "pattern_backups: snapshots of pruned patterns",
		SQL: `
CREATE TABLE pattern_backups (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    original_id     INTEGER NOT NULL,
    pattern_text    TEXT NOT NULL,
    correction_text TEXT NOT NULL,
    created_at      INTEGER NOT NULL,
    last_used       INTEGER,
    use_count       INTEGER NOT NULL,
    success_count   INTEGER NOT NULL,
    failure_count   INTEGER NOT NULL,
    score           REAL NOT NULL,
    reason          TEXT NOT NULL,
    deleted_at      INTEGER NOT NULL
);

CREATE INDEX idx_backups_deleted_at  ON pattern_backups(deleted_at DESC);
CREATE INDEX idx_backups_original_id ON pattern_backups(original_id);
`,
	},
	{
		Version:     4,
		Description: "pattern_backups: restore tracking",
		SQL: `
ALTER TABLE pattern_backups ADD COLUMN restored_as INTEGER;
ALTER TABLE pattern_backups ADD COLUMN restored_at INTEGER;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
