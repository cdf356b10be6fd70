package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultgraph/graphd/internal/ids"
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/query"
	"github.com/vaultgraph/graphd/internal/schema"
	"github.com/vaultgraph/graphd/internal/session"
	"github.com/vaultgraph/graphd/internal/storage/sqlite"
	"github.com/vaultgraph/graphd/internal/txn"
)

// newTestServer wires one keyspace named "test" over an in-memory
// SQLite store, bypassing manifest/lock/config loading so the accept
// loop itself can be exercised in isolation.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	authority, ok := any(store).(ids.Authority)
	if !ok {
		t.Fatalf("sqlite.Store does not implement ids.Authority")
	}
	pool, err := ids.NewPool(ctx, authority, ids.Config{
		Partition: "test", Namespace: "default", BlockSize: 1000,
	})
	if err != nil {
		t.Fatalf("ids.NewPool: %v", err)
	}

	tk := txn.NewKeyspace(schema.NewGraph(), store, pool, instance.DefaultShardingThreshold)
	sess := session.New(tk, query.NewRecognizer())

	socketPath := filepath.Join(t.TempDir(), "graphd.sock")
	srv := &Server{
		socketPath:     socketPath,
		requestTimeout: 5 * time.Second,
		logger:         discardLogger(),
		metrics:        &Metrics{},
		keyspaces:      map[string]*keyspace{"test": {sess: sess, ks: tk, store: store}},
		connSemaphore:  make(chan struct{}, 8),
		shutdownChan:   make(chan struct{}),
		doneChan:       make(chan struct{}),
		readyChan:      make(chan struct{}),
	}

	go func() { _ = srv.Start(ctx) }()
	<-srv.WaitReady()
	t.Cleanup(func() { _ = srv.Stop() })

	return srv, socketPath
}

func sendRequest(t *testing.T, rw *bufio.ReadWriter, req Request) Response {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := rw.Write(append(data, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if err := rw.Flush(); err != nil {
		t.Fatalf("flush request: %v", err)
	}
	line, err := rw.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal response: %v, raw=%s", err, line)
	}
	return resp
}

func TestServeHandlesInsertAndGetOverOneConnection(t *testing.T) {
	_, socketPath := newTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	resp := sendRequest(t, rw, Request{Op: OpOpenTransaction, Keyspace: "test", Mode: "write"})
	if !resp.Success {
		t.Fatalf("open_transaction: %s", resp.Error)
	}

	resp = sendRequest(t, rw, Request{Op: OpExecute, Keyspace: "test", Query: `define
		person sub entity.
		name sub attribute, datatype string.`})
	if !resp.Success {
		t.Fatalf("define: %s", resp.Error)
	}

	resp = sendRequest(t, rw, Request{Op: OpCommit, Keyspace: "test"})
	if !resp.Success {
		t.Fatalf("commit schema: %s", resp.Error)
	}

	resp = sendRequest(t, rw, Request{Op: OpOpenTransaction, Keyspace: "test", Mode: "write"})
	if !resp.Success {
		t.Fatalf("open_transaction 2: %s", resp.Error)
	}
	resp = sendRequest(t, rw, Request{Op: OpExecute, Keyspace: "test", Query: `insert $x isa person, has name "Alice";`})
	if !resp.Success {
		t.Fatalf("insert: %s", resp.Error)
	}
	resp = sendRequest(t, rw, Request{Op: OpCommit, Keyspace: "test"})
	if !resp.Success {
		t.Fatalf("commit insert: %s", resp.Error)
	}

	resp = sendRequest(t, rw, Request{Op: OpGetAttributesByValue, Keyspace: "test", Value: "Alice"})
	if !resp.Success {
		t.Fatalf("get_attributes_by_value: %s", resp.Error)
	}
}

func TestServeRejectsSecondTransactionOnSameConnection(t *testing.T) {
	_, socketPath := newTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	resp := sendRequest(t, rw, Request{Op: OpOpenTransaction, Keyspace: "test", Mode: "read"})
	if !resp.Success {
		t.Fatalf("first open_transaction: %s", resp.Error)
	}
	resp = sendRequest(t, rw, Request{Op: OpOpenTransaction, Keyspace: "test", Mode: "read"})
	if resp.Success {
		t.Fatalf("expected second open_transaction on the same connection to fail")
	}
}

func TestServeRejectsUnknownKeyspace(t *testing.T) {
	_, socketPath := newTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	resp := sendRequest(t, rw, Request{Op: OpOpenTransaction, Keyspace: "does-not-exist", Mode: "read"})
	if resp.Success {
		t.Fatalf("expected failure for unknown keyspace")
	}
}
