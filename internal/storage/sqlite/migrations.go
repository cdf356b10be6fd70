package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// coreSchema creates the tables a fresh database needs; RunMigrations
// handles everything added after a database's first release.
const coreSchema = `
CREATE TABLE IF NOT EXISTS sequences (
	partition TEXT NOT NULL,
	namespace TEXT NOT NULL,
	next_id   INTEGER NOT NULL,
	PRIMARY KEY (partition, namespace)
);

CREATE TABLE IF NOT EXISTS vertices (
	id         INTEGER PRIMARY KEY,
	type       INTEGER NOT NULL,
	kind       INTEGER NOT NULL,
	shard      INTEGER NOT NULL,
	value_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_vertices_type ON vertices(type);

CREATE TABLE IF NOT EXISTS edges (
	relation INTEGER NOT NULL,
	role     INTEGER NOT NULL,
	player   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation);

CREATE TABLE IF NOT EXISTS attribute_index (
	type       INTEGER NOT NULL,
	value_json TEXT NOT NULL,
	vertex_id  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attribute_index_type_value ON attribute_index(type, value_json);
`

// migration is one numbered, idempotent schema change applied after
// coreSchema. New migrations append to this list; none are ever removed
// or reordered once released.
type migration struct {
	name string
	run  func(ctx context.Context, db *sql.DB) error
}

// migrations is currently empty: coreSchema is still the only schema
// version in the field. The list exists so the next real schema change
// has somewhere to go without restructuring New's startup sequence.
var migrations []migration

// RunMigrations applies every migration not yet recorded in
// schema_migrations, in order.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name        TEXT PRIMARY KEY,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, m.name).Scan(&applied); err != nil {
			return fmt.Errorf("sqlite: check migration %s: %w", m.name, err)
		}
		if applied > 0 {
			continue
		}
		if err := m.run(ctx, db); err != nil {
			return fmt.Errorf("sqlite: migration %s: %w", m.name, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, m.name); err != nil {
			return fmt.Errorf("sqlite: record migration %s: %w", m.name, err)
		}
	}
	return nil
}
