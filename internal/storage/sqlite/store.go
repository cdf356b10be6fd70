// Package sqlite implements the IDAuthority and instance.Store
// collaborators over SQLite, for keyspaces whose manifest entry names a
// file (or in-memory) DSN rather than a Dolt one.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver" // registers the database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the WASM sqlite3 binary
	"github.com/tetratelabs/wazero"

	"github.com/vaultgraph/graphd/internal/ids"
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/schema"
)

func setupWASMCache() {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "graphd", "wasm")
	}
	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// Store implements ids.Authority and instance.Store over a single SQLite
// database: one sequences row per (partition, namespace) ID block
// counter, and vertices/edges/attribute_index tables for the instance
// graph.
type Store struct {
	db          *sql.DB
	dbPath      string
	connStr     string
	busyTimeout time.Duration
	closed      atomic.Bool
	freshness   *Freshness
	reconnectMu sync.RWMutex
}

// New opens (creating if necessary) a SQLite-backed Store at path, with a
// 30s default busy timeout. path may be ":memory:" for an ephemeral,
// single-connection database (tests only — no Freshness tracker, no
// WAL). A file-backed Store builds a Freshness tracker wired to
// reconnect, but no Store method calls its Check, so a database file
// replaced underneath a running Store is not detected.
func New(ctx context.Context, path string) (*Store, error) {
	return NewWithTimeout(ctx, path, 30*time.Second)
}

// NewWithTimeout is New with an explicit busy timeout. A timeout of 0
// means fail immediately rather than wait on a locked database.
func NewWithTimeout(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	timeoutMs := int64(busyTimeout / time.Millisecond)

	var connStr string
	isInMemory := path == ":memory:"
	if isInMemory {
		connStr = fmt.Sprintf("file:graphd_memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=busy_timeout(%d)&_txlock=immediate", timeoutMs)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("sqlite: create database directory: %w", err)
			}
		}
		connStr = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_txlock=immediate", path, timeoutMs)
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		maxConns := runtime.NumCPU() + 1
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)

		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, coreSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: initialize schema: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	absPath := path
	if path != ":memory:" {
		if abs, err := filepath.Abs(path); err == nil {
			absPath = abs
		}
	}

	s := &Store{db: db, dbPath: absPath, connStr: connStr, busyTimeout: busyTimeout}
	if !isInMemory {
		s.freshness = NewFreshness(absPath, s.reconnect)
	}
	return s, nil
}

// reconnect reopens the database file in place, for use as a
// Freshness.onStale callback when the file underneath a long-lived Store
// is replaced out from under it (e.g. restored from a backup).
func (s *Store) reconnect() error {
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	db, err := sql.Open("sqlite3", s.connStr)
	if err != nil {
		return fmt.Errorf("sqlite: reconnect: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("sqlite: reconnect ping: %w", err)
	}
	old := s.db
	s.db = db
	_ = old.Close()
	s.freshness.UpdateState()
	return nil
}

// Close closes the underlying database handle. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// GetIDBlock implements ids.Authority by allocating [lo, hi) out of the
// sequences table under an immediate (write-locking) transaction, so two
// processes racing for the same (partition, namespace) block never hand
// out overlapping ranges.
func (s *Store) GetIDBlock(ctx context.Context, partition, namespace string, blockSize, upperBound uint64) (ids.Block, error) {
	s.reconnectMu.RLock()
	db := s.db
	s.reconnectMu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ids.Block{}, fmt.Errorf("sqlite: begin id block allocation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lo uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sequences (partition, namespace, next_id) VALUES (?, ?, 0)
		ON CONFLICT(partition, namespace) DO UPDATE SET next_id = next_id
		RETURNING next_id`, partition, namespace).Scan(&lo)
	if err != nil {
		return ids.Block{}, fmt.Errorf("sqlite: read id sequence: %w", err)
	}

	if upperBound > 0 && lo >= upperBound {
		return ids.Block{}, fmt.Errorf("sqlite: %w", ids.ErrPoolExhausted)
	}

	hi := lo + blockSize
	if upperBound > 0 && hi > upperBound {
		hi = upperBound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sequences SET next_id = ? WHERE partition = ? AND namespace = ?`, hi, partition, namespace); err != nil {
		return ids.Block{}, fmt.Errorf("sqlite: advance id sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ids.Block{}, fmt.Errorf("sqlite: commit id block allocation: %w", err)
	}
	return ids.Block{Lo: lo, Hi: hi}, nil
}

// SupportsInterruption reports false: a canceled GetIDBlock still holds
// its row lock until the SQLite driver's own context handling aborts the
// statement, so the pool must treat a timed-out fetch as possibly still
// in flight rather than safely abandoned.
func (s *Store) SupportsInterruption() bool { return false }

// PutVertex upserts a single vertex outside of a staged commit batch,
// keeping the attribute_index in step for AttributeKind vertices.
func (s *Store) PutVertex(ctx context.Context, v instance.Vertex) error {
	s.reconnectMu.RLock()
	db := s.db
	s.reconnectMu.RUnlock()

	valueJSON, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("sqlite: marshal vertex value: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin put vertex: %w", err)
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
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, kind = excluded.kind, shard = excluded.shard, value_json = excluded.value_json`,
		uint64(v.ID), uint64(v.Type), int(v.Kind), uint64(v.Shard), string(valueJSON))
	if err != nil {
		return fmt.Errorf("sqlite: put vertex %d: %w", v.ID, err)
	}
	if v.Kind != instance.AttributeKind {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_index WHERE vertex_id = ?`, uint64(v.ID)); err != nil {
		return fmt.Errorf("sqlite: clear attribute index for %d: %w", v.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO attribute_index (type, value_json, vertex_id) VALUES (?, ?, ?)`,
		uint64(v.Type), string(valueJSON), uint64(v.ID)); err != nil {
		return fmt.Errorf("sqlite: index attribute %d: %w", v.ID, err)
	}
	return nil
}

// GetVertex returns a single vertex by ID.
func (s *Store) GetVertex(ctx context.Context, id schema.ConceptID) (instance.Vertex, bool, error) {
	s.reconnectMu.RLock()
	db := s.db
	s.reconnectMu.RUnlock()

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
		return instance.Vertex{}, false, fmt.Errorf("sqlite: get vertex %d: %w", id, err)
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

// Edges returns every Casting persisted against relation.
func (s *Store) Edges(ctx context.Context, relation schema.ConceptID) ([]instance.Edge, error) {
	s.reconnectMu.RLock()
	db := s.db
	s.reconnectMu.RUnlock()

	rows, err := db.QueryContext(ctx, `SELECT role, player FROM edges WHERE relation = ?`, uint64(relation))
	if err != nil {
		return nil, fmt.Errorf("sqlite: edges for %d: %w", relation, err)
	}
	defer rows.Close()

	var out []instance.Edge
	for rows.Next() {
		var role, player uint64
		if err := rows.Scan(&role, &player); err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		out = append(out, instance.Edge{Relation: relation, Role: schema.ConceptID(role), Player: schema.ConceptID(player)})
	}
	return out, rows.Err()
}

// ScanByIndex returns every attribute vertex of attrType whose value
// equals value.
func (s *Store) ScanByIndex(ctx context.Context, attrType schema.ConceptID, value any) ([]instance.Vertex, error) {
	s.reconnectMu.RLock()
	db := s.db
	s.reconnectMu.RUnlock()

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal scan value: %w", err)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT v.id, v.kind, v.shard, v.value_json
		FROM attribute_index ai JOIN vertices v ON v.id = ai.vertex_id
		WHERE ai.type = ? AND ai.value_json = ?`, uint64(attrType), string(valueJSON))
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan by index: %w", err)
	}
	defer rows.Close()
	return scanVertices(rows, attrType)
}

// ScanByType returns every vertex of the given type.
func (s *Store) ScanByType(ctx context.Context, typeID schema.ConceptID) ([]instance.Vertex, error) {
	s.reconnectMu.RLock()
	db := s.db
	s.reconnectMu.RUnlock()

	rows, err := db.QueryContext(ctx, `SELECT id, kind, shard, value_json FROM vertices WHERE type = ?`, uint64(typeID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan by type: %w", err)
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
			return nil, fmt.Errorf("sqlite: scan vertex: %w", err)
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
		return fmt.Errorf("sqlite: decode value: %w", err)
	}
	return nil
}

// Commit persists a staged mutation batch atomically: deletes first (a
// vertex and its edges/index entries), then upserted vertices, then new
// edges.
func (s *Store) Commit(ctx context.Context, staged instance.Mutations) error {
	s.reconnectMu.RLock()
	db := s.db
	s.reconnectMu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range staged.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vertices WHERE id = ?`, uint64(id)); err != nil {
			return fmt.Errorf("sqlite: delete vertex %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE relation = ?`, uint64(id)); err != nil {
			return fmt.Errorf("sqlite: delete edges for %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_index WHERE vertex_id = ?`, uint64(id)); err != nil {
			return fmt.Errorf("sqlite: delete attribute index for %d: %w", id, err)
		}
	}
	for _, v := range staged.Vertices {
		valueJSON, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Errorf("sqlite: marshal vertex value: %w", err)
		}
		if err := putVertexTx(ctx, tx, v, valueJSON); err != nil {
			return err
		}
	}
	for _, e := range staged.Edges {
		if _, err := tx.ExecContext(ctx, `INSERT INTO edges (relation, role, player) VALUES (?, ?, ?)`,
			uint64(e.Relation), uint64(e.Role), uint64(e.Player)); err != nil {
			return fmt.Errorf("sqlite: insert edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Rollback is a no-op: Store never leaves a transaction open between
// calls, so there is nothing for a failed caller-side transaction to
// discard here.
func (s *Store) Rollback(ctx context.Context) error { return nil }
