package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS segments (
    id TEXT PRIMARY KEY,
    external_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT '',
    categories TEXT NOT NULL DEFAULT '[]',
    signal_type TEXT NOT NULL DEFAULT 'marketplace',
    platform TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL DEFAULT '',
    catalog_access TEXT NOT NULL DEFAULT 'public'
        CHECK (catalog_access IN ('public', 'personalized', 'private')),
    coverage_percentage REAL,
    cpm REAL,
    revenue_share_percentage REAL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_segments_access ON segments(catalog_access);
CREATE INDEX IF NOT EXISTS idx_segments_platform ON segments(platform, account_id);

-- Keyword index over the searchable text of each segment
CREATE VIRTUAL TABLE IF NOT EXISTS segments_fts USING fts5(
    id, name, description, provider, categories,
    content='segments',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS segments_ai AFTER INSERT ON segments BEGIN
    INSERT INTO segments_fts(rowid, id, name, description, provider, categories)
    VALUES (new.rowid, new.id, new.name, new.description, new.provider, new.categories);
END;

CREATE TRIGGER IF NOT EXISTS segments_ad AFTER DELETE ON segments BEGIN
    INSERT INTO segments_fts(segments_fts, rowid, id, name, description, provider, categories)
    VALUES ('delete', old.rowid, old.id, old.name, old.description, old.provider, old.categories);
END;

CREATE TRIGGER IF NOT EXISTS segments_au AFTER UPDATE ON segments BEGIN
    INSERT INTO segments_fts(segments_fts, rowid, id, name, description, provider, categories)
    VALUES ('delete', old.rowid, old.id, old.name, old.description, old.provider, old.categories);
    INSERT INTO segments_fts(rowid, id, name, description, provider, categories)
    VALUES (new.rowid, new.id, new.name, new.description, new.provider, new.categories);
END;

CREATE TABLE IF NOT EXISTS segment_embeddings (
    segment_id TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    content_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (segment_id) REFERENCES segments(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_segment_embeddings_dim ON segment_embeddings(dimension);
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS segments_au;
DROP TRIGGER IF EXISTS segments_ad;
DROP TRIGGER IF EXISTS segments_ai;

DROP TABLE IF EXISTS segment_embeddings;
DROP TABLE IF EXISTS segments_fts;
DROP TABLE IF EXISTS segments;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- Per-principal negotiated pricing
CREATE TABLE IF NOT EXISTS principal_segment_access (
    principal_id TEXT NOT NULL,
    segment_id TEXT NOT NULL,
    custom_cpm REAL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (principal_id, segment_id),
    FOREIGN KEY (segment_id) REFERENCES segments(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_principal_access_principal ON principal_segment_access(principal_id);
`

const migrationV11Down = `
DROP TABLE IF EXISTS principal_segment_access;
`

// SchemaVersion returns the most recently applied migration version, or
// 0.0.0 on an empty database.
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "check schema_version table")
	}

	var current string
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY rowid DESC LIMIT 1").Scan(&current)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && current == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "read schema_version")
	}

	v, err := semver.NewVersion(current)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid current schema version %s", current)
	}
	return v, nil
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return eris.Wrapf(err, "invalid migration version %s", migration.Version)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return eris.Wrapf(err, "apply migration %s", migration.Version)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return eris.Wrapf(err, "record migration %s", migration.Version)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	var currentVersion string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY rowid DESC LIMIT 1").Scan(&currentVersion)
	if err != nil {
		return eris.Wrap(err, "no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == currentVersion {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return eris.Errorf("migration %s not found", currentVersion)
	}

	// The record goes first; the initial migration drops schema_version itself
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", currentVersion); err != nil {
		return eris.Wrapf(err, "remove migration record %s", currentVersion)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return eris.Wrapf(err, "rollback migration %s", currentVersion)
	}

	return nil
}
