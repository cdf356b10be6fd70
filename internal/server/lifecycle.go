package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vaultgraph/graphd/internal/config"
	"github.com/vaultgraph/graphd/internal/ids"
	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/query"
	"github.com/vaultgraph/graphd/internal/schema"
	"github.com/vaultgraph/graphd/internal/session"
	"github.com/vaultgraph/graphd/internal/storage/dolt"
	"github.com/vaultgraph/graphd/internal/storage/sqlite"
	"github.com/vaultgraph/graphd/internal/txn"
)

// serverSignals are the signals that trigger a graceful Stop, mirroring
// the teacher daemon's shutdown-on-SIGINT/SIGTERM behavior.
var serverSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// closer is the Close method every concrete backend provides alongside
// instance.Store (which itself has no Close), narrowed so Server can close whichever one opened a keyspace without
// caring which concrete backend it is.
type closer interface {
	Close() error
}

// keyspace bundles one manifest entry's live collaborators: the
// Transaction mediator, the Session wrapping it, and the underlying
// store so Stop can close it.
type keyspace struct {
	sess  *session.Session
	ks    *txn.Keyspace
	store closer
}

// Metrics is a minimal connection counter, standing in for the
// teacher's richer metrics package (not present in the retrieval pack)
// — it counts accepted vs rejected connections. The counts are not
// exposed through any protocol operation or exported accessor.
type Metrics struct {
	accepted int64
	rejected int64
}

func (m *Metrics) RecordConnection()         { atomic.AddInt64(&m.accepted, 1) }
func (m *Metrics) RecordRejectedConnection() { atomic.AddInt64(&m.rejected, 1) }

// Server is a graphd daemon: one Unix-domain-socket listener dispatching
// a line-delimited JSON protocol against a manifest-driven set of
// keyspaces. Grounded on the accept-loop and connection-lifecycle shape
// of the RPC server this is modeled on (bounded connection semaphore,
// signal-triggered graceful Stop, per-connection context); no literal
// Server struct existed to copy, so its fields are inferred from that
// file's usage and adapted to graphd's keyspace-per-manifest-entry
// model in place of the teacher's single embedded store.
type Server struct {
	socketPath     string
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics

	mu        sync.RWMutex
	listener  net.Listener
	keyspaces map[string]*keyspace

	connSemaphore chan struct{}
	activeConns   int32

	shutdown     bool
	shutdownChan chan struct{}
	doneChan     chan struct{}
	readyChan    chan struct{}
	stopOnce     sync.Once
}

// New builds a Server from cfg and a loaded manifest, opening every
// selected keyspace's storage backend and wiring it into a
// txn.Keyspace/session.Session pair. cfg.ServerMaxConns bounds concurrently
// handled connections; excess connections are rejected, not queued.
func New(ctx context.Context, cfg config.Config, entries []KeyspaceEntry, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = discardLogger()
	}
	s := &Server{
		socketPath:     cfg.ServerSocketPath,
		requestTimeout: 30 * time.Second,
		logger:         logger,
		metrics:        &Metrics{},
		keyspaces:      make(map[string]*keyspace),
		connSemaphore:  make(chan struct{}, cfg.ServerMaxConns),
		shutdownChan:   make(chan struct{}),
		doneChan:       make(chan struct{}),
		readyChan:      make(chan struct{}),
	}

	for _, entry := range entries {
		ks, err := openKeyspace(ctx, entry, cfg)
		if err != nil {
			s.closeAllKeyspaces()
			return nil, fmt.Errorf("server: open keyspace %s: %w", entry.Name, err)
		}
		s.keyspaces[entry.Name] = ks
	}

	return s, nil
}

// openKeyspace dispatches on entry.DSN's scheme to build an
// instance.Store, wraps it in an ID pool and a fresh schema graph, and
// returns the Session/Keyspace pair that backs it.
func openKeyspace(ctx context.Context, entry KeyspaceEntry, cfg config.Config) (*keyspace, error) {
	scheme, rest, ok := splitDSN(entry.DSN)
	if !ok {
		return nil, fmt.Errorf("server: malformed dsn %q", entry.DSN)
	}

	var store instance.Store
	var closeable closer
	switch scheme {
	case "sqlite":
		st, err := sqlite.New(ctx, rest)
		if err != nil {
			return nil, err
		}
		store, closeable = st, st
	case "dolt":
		doltCfg := &dolt.Config{Path: rest}
		st, err := dolt.New(ctx, doltCfg)
		if err != nil {
			return nil, err
		}
		store, closeable = st, st
	default:
		return nil, fmt.Errorf("server: unknown dsn scheme %q", scheme)
	}

	authority, ok := store.(ids.Authority)
	if !ok {
		return nil, fmt.Errorf("server: backend %s does not implement ids.Authority", scheme)
	}
	pool, err := ids.NewPool(ctx, authority, ids.Config{
		Partition:             entry.Name,
		Namespace:             "default",
		BlockSize:             cfg.IDBlockSize,
		UpperBound:            cfg.IDUpperBound,
		RenewTimeout:          cfg.IDRenewTimeout,
		RenewBufferPercentage: cfg.IDRenewBufferPercentage,
		MinRenewIDCount:       cfg.IDMinRenewCount,
	})
	if err != nil {
		return nil, err
	}

	tk := txn.NewKeyspace(schema.NewGraph(), store, pool, cfg.ShardingThreshold)
	sess := session.New(tk, query.NewRecognizer())
	return &keyspace{sess: sess, ks: tk, store: closeable}, nil
}

// splitDSN splits "scheme:rest" into its two parts.
func splitDSN(dsn string) (scheme, rest string, ok bool) {
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == ':' {
			return dsn[:i], dsn[i+1:], true
		}
	}
	return "", "", false
}

func (s *Server) closeAllKeyspaces() {
	for _, ks := range s.keyspaces {
		_ = ks.store.Close()
	}
}

// Start runs the accept loop until Stop is called or the listener
// fails. It blocks; callers typically run it in its own goroutine and
// wait on WaitReady/doneChan.
func (s *Server) Start(_ context.Context) error {
	if err := s.ensureSocketDir(); err != nil {
		return fmt.Errorf("server: ensure socket dir: %w", err)
	}
	if err := s.removeStaleSocket(); err != nil {
		return fmt.Errorf("server: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(s.socketPath, 0o600); err != nil {
			_ = listener.Close()
			return fmt.Errorf("server: chmod socket: %w", err)
		}
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	close(s.readyChan)
	go s.handleSignals()
	defer close(s.doneChan)

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.RLock()
			shutdown := s.shutdown
			s.mu.RUnlock()
			if shutdown {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		select {
		case s.connSemaphore <- struct{}{}:
			s.metrics.RecordConnection()
			go func(c net.Conn) {
				defer func() { <-s.connSemaphore }()
				atomic.AddInt32(&s.activeConns, 1)
				defer atomic.AddInt32(&s.activeConns, -1)
				s.handleConnection(c)
			}(conn)
		default:
			s.metrics.RecordRejectedConnection()
			_ = conn.Close()
		}
	}
}

// WaitReady returns a channel closed once the accept loop is listening.
func (s *Server) WaitReady() <-chan struct{} { return s.readyChan }

// Stop gracefully shuts the server down: closes the listener, closes
// every keyspace's storage backend, and waits (with a timeout) for
// Start's accept loop to finish. Safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		close(s.shutdownChan)

		s.closeAllKeyspaces()

		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()

		if listener != nil {
			if closeErr := listener.Close(); closeErr != nil {
				err = fmt.Errorf("server: close listener: %w", closeErr)
			}
		}
		if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
			s.logger.Warn("remove socket file", "path", s.socketPath, "error", removeErr)
		}
	})

	select {
	case <-s.doneChan:
	case <-time.After(5 * time.Second):
	}
	return err
}

func (s *Server) ensureSocketDir() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.Chmod(dir, 0o700)
}

// removeStaleSocket removes a leftover socket file from a previous,
// uncleanly terminated run. AcquireLock already guarantees no other live
// process holds this manifest, so an existing socket file here can only
// be stale.
func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *Server) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, serverSignals...)
	select {
	case <-sigChan:
		_ = s.Stop()
	case <-s.shutdownChan:
	}
}

// connState is the per-connection transaction slot: each connection acts
// as one thread-affinity owner, so at most one transaction is open on it
// at a time, matching Session's own per-owner concurrency limit.
type connState struct {
	txn  *txn.Transaction
	mode string
	ks   string
}

func (s *Server) handleConnection(conn net.Conn) {
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in handleConnection", "recovered", r, "stack", string(debug.Stack()))
		}
	}()

	owner := conn
	state := &connState{}
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.requestTimeout)); err != nil {
			return
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if state.txn != nil {
				_ = state.txn.Close(owner)
			}
			return
		}

		var req Request
		resp := func() Response {
			if err := json.Unmarshal(line, &req); err != nil {
				return errorResponse(fmt.Errorf("invalid request: %w", err))
			}
			return s.handleRequest(connCtx, owner, state, &req)
		}()

		if err := conn.SetWriteDeadline(time.Now().Add(s.requestTimeout)); err != nil {
			return
		}
		if err := writeResponse(writer, resp); err != nil {
			return
		}
	}
}

func writeResponse(w *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) handleRequest(ctx context.Context, owner any, state *connState, req *Request) Response {
	if req.Op == OpShutdown {
		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = s.Stop()
		}()
		return dataResponse(map[string]string{"message": "server shutting down"})
	}

	s.mu.RLock()
	ks, ok := s.keyspaces[req.Keyspace]
	s.mu.RUnlock()
	if !ok {
		return errorResponse(fmt.Errorf("server: unknown keyspace %q", req.Keyspace))
	}

	switch req.Op {
	case OpOpenTransaction:
		if state.txn != nil {
			return errorResponse(fmt.Errorf("server: connection already has an open transaction"))
		}
		mode := txn.ModeRead
		if req.Mode == "write" {
			mode = txn.ModeWrite
		}
		tx, err := ks.sess.Transaction(mode, owner)
		if err != nil {
			return errorResponse(err)
		}
		state.txn, state.mode, state.ks = tx, req.Mode, req.Keyspace
		return dataResponse(map[string]string{"status": "open"})

	case OpExecute:
		if state.txn == nil {
			return errorResponse(fmt.Errorf("server: no open transaction"))
		}
		answers, err := state.txn.Execute(ctx, owner, req.Query)
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(answers)

	case OpCommit:
		if state.txn == nil {
			return errorResponse(fmt.Errorf("server: no open transaction"))
		}
		err := state.txn.Commit(ctx, owner)
		state.txn = nil
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(map[string]string{"status": "committed"})

	case OpClose:
		if state.txn == nil {
			return dataResponse(map[string]string{"status": "closed"})
		}
		err := state.txn.Close(owner)
		state.txn = nil
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(map[string]string{"status": "closed"})

	case OpGetAttributesByValue:
		attrs, err := ks.sess.GetAttributesByValue(ctx, owner, req.Value)
		if err != nil {
			return errorResponse(err)
		}
		return dataResponse(attrs)

	default:
		return errorResponse(fmt.Errorf("server: unknown op %q", req.Op))
	}
}
