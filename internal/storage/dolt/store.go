package dolt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/dolthub/driver"     // embedded Dolt driver
	_ "github.com/go-sql-driver/mysql" // server-mode (MySQL wire protocol) driver

	"github.com/vaultgraph/graphd/internal/ids"
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/schema"
)

const coreSchema = `
CREATE TABLE IF NOT EXISTS sequences (
	partition VARCHAR(255) NOT NULL,
	namespace VARCHAR(255) NOT NULL,
	next_id   BIGINT UNSIGNED NOT NULL,
	PRIMARY KEY (partition, namespace)
);

CREATE TABLE IF NOT EXISTS vertices (
	id         BIGINT UNSIGNED PRIMARY KEY,
	type       BIGINT UNSIGNED NOT NULL,
	kind       TINYINT UNSIGNED NOT NULL,
	shard      BIGINT UNSIGNED NOT NULL,
	value_json TEXT,
	INDEX idx_vertices_type (type)
);

CREATE TABLE IF NOT EXISTS edges (
	relation BIGINT UNSIGNED NOT NULL,
	role     BIGINT UNSIGNED NOT NULL,
	player   BIGINT UNSIGNED NOT NULL,
	INDEX idx_edges_relation (relation)
);

CREATE TABLE IF NOT EXISTS attribute_index (
	type       BIGINT UNSIGNED NOT NULL,
	value_json TEXT NOT NULL,
	vertex_id  BIGINT UNSIGNED NOT NULL,
	INDEX idx_attribute_index_type (type)
);
`

// Store implements ids.Authority and instance.Store over Dolt, in
// embedded or server mode per Config.ServerMode.
type Store struct {
	db      *sql.DB
	dbPath  string
	connStr string
	closed  atomic.Bool
	mu      sync.RWMutex

	committerName  string
	committerEmail string
}

// New opens a Dolt-backed Store per cfg.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	cfg.applyDefaults()

	var db *sql.DB
	var connStr string
	var err error
	if cfg.ServerMode {
		db, connStr, err = openServerConnection(ctx, cfg)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("dolt: create database directory: %w", err)
		}
		db, connStr, err = openEmbeddedConnection(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dolt: ping database: %w", err)
	}

	s := &Store{
		db:             db,
		dbPath:         cfg.Path,
		connStr:        connStr,
		committerName:  cfg.CommitterName,
		committerEmail: cfg.CommitterEmail,
	}

	for _, stmt := range splitStatements(coreSchema) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("dolt: initialize schema: %w", err)
		}
	}
	return s, nil
}

func openEmbeddedConnection(ctx context.Context, cfg *Config) (*sql.DB, string, error) {
	connStr := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", cfg.Path, cfg.CommitterName, cfg.CommitterEmail)

	var db *sql.DB
	var lastErr error
	retryDelay := cfg.LockRetryDelay
	for attempt := 0; attempt <= cfg.LockRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
		db, lastErr = sql.Open("dolt", connStr)
		if lastErr != nil {
			continue
		}
		if _, lastErr = db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.Database)); lastErr != nil {
			_ = db.Close()
			continue
		}
		if _, lastErr = db.ExecContext(ctx, fmt.Sprintf("USE %s", cfg.Database)); lastErr != nil {
			_ = db.Close()
			continue
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if lastErr = db.PingContext(ctx); lastErr != nil {
			_ = db.Close()
			continue
		}
		break
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("dolt: connect after %d retries: %w", cfg.LockRetries, lastErr)
	}
	return db, connStr, nil
}

func openServerConnection(ctx context.Context, cfg *Config) (*sql.DB, string, error) {
	dsn := func(database string) string {
		if cfg.ServerPassword != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.ServerUser, cfg.ServerPassword, cfg.ServerHost, cfg.ServerPort, database)
		}
		return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", cfg.ServerUser, cfg.ServerHost, cfg.ServerPort, database)
	}

	initDB, err := sql.Open("mysql", dsn(""))
	if err != nil {
		return nil, "", fmt.Errorf("dolt: open init connection: %w", err)
	}
	defer func() { _ = initDB.Close() }()
	if _, err := initDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.Database)); err != nil {
		return nil, "", fmt.Errorf("dolt: create database: %w", err)
	}

	connStr := dsn(cfg.Database)
	db, err := sql.Open("mysql", connStr)
	if err != nil {
		return nil, "", fmt.Errorf("dolt: open server connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, connStr, nil
}

func splitStatements(schema string) []string {
	return strings.Split(schema, ";")
}

// Close closes the underlying connection. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// GetIDBlock implements ids.Authority. Dolt's MySQL-compatible dialect
// has no RETURNING clause, so the sequence row is read with a plain
// statement before the update, both inside one transaction (sqlite.Store
// also updates in a second statement, but reads the row back through
// INSERT ... RETURNING).
func (s *Store) GetIDBlock(ctx context.Context, partition, namespace string, blockSize, upperBound uint64) (ids.Block, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ids.Block{}, fmt.Errorf("dolt: begin id block allocation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO sequences (partition, namespace, next_id) VALUES (?, ?, 0)`, partition, namespace); err != nil {
		return ids.Block{}, fmt.Errorf("dolt: seed id sequence: %w", err)
	}

	var lo uint64
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM sequences WHERE partition = ? AND namespace = ? FOR UPDATE`, partition, namespace).Scan(&lo); err != nil {
		return ids.Block{}, fmt.Errorf("dolt: read id sequence: %w", err)
	}

	if upperBound > 0 && lo >= upperBound {
		return ids.Block{}, fmt.Errorf("dolt: %w", ids.ErrPoolExhausted)
	}

	hi := lo + blockSize
	if upperBound > 0 && hi > upperBound {
		hi = upperBound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sequences SET next_id = ? WHERE partition = ? AND namespace = ?`, hi, partition, namespace); err != nil {
		return ids.Block{}, fmt.Errorf("dolt: advance id sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ids.Block{}, fmt.Errorf("dolt: commit id block allocation: %w", err)
	}
	return ids.Block{Lo: lo, Hi: hi}, nil
}

// SupportsInterruption reports false, for the same reason as the SQLite
// backend: a canceled allocation may still hold its row lock until Dolt's
// own statement-cancellation catches up.
func (s *Store) SupportsInterruption() bool { return false }

func (s *Store) PutVertex(ctx context.Context, v instance.Vertex) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	valueJSON, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("dolt: marshal vertex value: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dolt: begin put vertex: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := putVertexTx(ctx, tx, v, valueJSON); err != nil {
		return err
	}
	return tx.Commit()
}

func putVertexTx(ctx context.Context, tx *sql.Tx, v instance.Vertex, valueJSON []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vertices (id, type, kind, shard, value_json) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE type = VALUES(type), kind = VALUES(kind), shard = VALUES(shard), value_json = VALUES(value_json)`,
		uint64(v.ID), uint64(v.Type), int(v.Kind), uint64(v.Shard), string(valueJSON))
	if err != nil {
		return fmt.Errorf("dolt: put vertex %d: %w", v.ID, err)
	}
	if v.Kind != instance.AttributeKind {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_index WHERE vertex_id = ?`, uint64(v.ID)); err != nil {
		return fmt.Errorf("dolt: clear attribute index for %d: %w", v.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO attribute_index (type, value_json, vertex_id) VALUES (?, ?, ?)`,
		uint64(v.Type), string(valueJSON), uint64(v.ID)); err != nil {
		return fmt.Errorf("dolt: index attribute %d: %w", v.ID, err)
	}
	return nil
}

func (s *Store) GetVertex(ctx context.Context, id schema.ConceptID) (instance.Vertex, bool, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	var v instance.Vertex
	var typ, shard uint64
	var kind int
	var valueJSON sql.NullString
	err := db.QueryRowContext(ctx, `SELECT type, kind, shard, value_json FROM vertices WHERE id = ?`, uint64(id)).
		Scan(&typ, &kind, &shard, &valueJSON)
	if err == sql.ErrNoRows {
		return instance.Vertex{}, false, nil
	}
	if err != nil {
		return instance.Vertex{}, false, fmt.Errorf("dolt: get vertex %d: %w", id, err)
	}
	v.ID = id
	v.Type = schema.ConceptID(typ)
	v.Kind = instance.Kind(kind)
	v.Shard = instance.ShardID(shard)
	if err := decodeValue(valueJSON, &v.Value); err != nil {
		return instance.Vertex{}, false, err
	}
	return v, true, nil
}

func (s *Store) Edges(ctx context.Context, relation schema.ConceptID) ([]instance.Edge, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	rows, err := db.QueryContext(ctx, `SELECT role, player FROM edges WHERE relation = ?`, uint64(relation))
	if err != nil {
		return nil, fmt.Errorf("dolt: edges for %d: %w", relation, err)
	}
	defer rows.Close()
	var out []instance.Edge
	for rows.Next() {
		var role, player uint64
		if err := rows.Scan(&role, &player); err != nil {
			return nil, fmt.Errorf("dolt: scan edge: %w", err)
		}
		out = append(out, instance.Edge{Relation: relation, Role: schema.ConceptID(role), Player: schema.ConceptID(player)})
	}
	return out, rows.Err()
}

func (s *Store) ScanByIndex(ctx context.Context, attrType schema.ConceptID, value any) ([]instance.Vertex, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("dolt: marshal scan value: %w", err)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT v.id, v.kind, v.shard, v.value_json
		FROM attribute_index ai JOIN vertices v ON v.id = ai.vertex_id
		WHERE ai.type = ? AND ai.value_json = ?`, uint64(attrType), string(valueJSON))
	if err != nil {
		return nil, fmt.Errorf("dolt: scan by index: %w", err)
	}
	defer rows.Close()
	return scanVertices(rows, attrType)
}

func (s *Store) ScanByType(ctx context.Context, typeID schema.ConceptID) ([]instance.Vertex, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	rows, err := db.QueryContext(ctx, `SELECT id, kind, shard, value_json FROM vertices WHERE type = ?`, uint64(typeID))
	if err != nil {
		return nil, fmt.Errorf("dolt: scan by type: %w", err)
	}
	defer rows.Close()
	return scanVertices(rows, typeID)
}

func scanVertices(rows *sql.Rows, typeID schema.ConceptID) ([]instance.Vertex, error) {
	var out []instance.Vertex
	for rows.Next() {
		var id, shard uint64
		var kind int
		var valueJSON sql.NullString
		if err := rows.Scan(&id, &kind, &shard, &valueJSON); err != nil {
			return nil, fmt.Errorf("dolt: scan vertex: %w", err)
		}
		v := instance.Vertex{ID: schema.ConceptID(id), Type: typeID, Kind: instance.Kind(kind), Shard: instance.ShardID(shard)}
		if err := decodeValue(valueJSON, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func decodeValue(valueJSON sql.NullString, dst *any) error {
	if !valueJSON.Valid || valueJSON.String == "" || valueJSON.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(valueJSON.String), dst); err != nil {
		return fmt.Errorf("dolt: decode value: %w", err)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, staged instance.Mutations) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dolt: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range staged.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vertices WHERE id = ?`, uint64(id)); err != nil {
			return fmt.Errorf("dolt: delete vertex %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE relation = ?`, uint64(id)); err != nil {
			return fmt.Errorf("dolt: delete edges for %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_index WHERE vertex_id = ?`, uint64(id)); err != nil {
			return fmt.Errorf("dolt: delete attribute index for %d: %w", id, err)
		}
	}
	for _, v := range staged.Vertices {
		valueJSON, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Errorf("dolt: marshal vertex value: %w", err)
		}
		if err := putVertexTx(ctx, tx, v, valueJSON); err != nil {
			return err
		}
	}
	for _, e := range staged.Edges {
		if _, err := tx.ExecContext(ctx, `INSERT INTO edges (relation, role, player) VALUES (?, ?, ?)`,
			uint64(e.Relation), uint64(e.Role), uint64(e.Player)); err != nil {
			return fmt.Errorf("dolt: insert edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dolt: commit: %w", err)
	}
	return nil
}

// Rollback is a no-op; see sqlite.Store.Rollback for the same reasoning.
func (s *Store) Rollback(ctx context.Context) error { return nil }
