// Package session implements the Session: a client's long-lived handle
// onto a Keyspace, responsible for enforcing "at most one open
// transaction per thread" and owning the attribute-by-value cache. It is
// the collaborator named in SPEC_FULL.md §4.4 — one step up from
// internal/txn, which has no notion of "a client" at all.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/vaultgraph/graphd/internal/instance"
	"github.com/vaultgraph/graphd/internal/query"
	"github.com/vaultgraph/graphd/internal/txn"
)

// ErrSessionClosed is returned by Transaction and GetAttributesByValue
// once Close has run (Close itself is idempotent and returns nil).
var ErrSessionClosed = errors.New("session: closed")

// Session mediates between a client and one Keyspace. Grounded on the
// RPC server's per-connection goroutine bookkeeping
// (internal/rpc/server_lifecycle_conn.go's activeConns counter and
// connSemaphore), generalized from "one slot per accepted connection" to
// "one open transaction slot per calling thread."
type Session struct {
	ks     *txn.Keyspace
	parser query.Parser
	cache  *Cache

	mu     sync.Mutex
	open   map[any]*txn.Transaction
	closed bool
}

// New opens a Session against ks. parser is handed to every transaction
// this session opens.
func New(ks *txn.Keyspace, parser query.Parser) *Session {
	return &Session{
		ks:     ks,
		parser: parser,
		cache:  NewCache(ks),
		open:   make(map[any]*txn.Transaction),
	}
}

// Transaction opens a new Transaction in mode, bound to owner's thread.
// Raises ErrConcurrentTransactionOnThread (re-exported from internal/txn)
// if owner already has a transaction open on this session; the spec
// scopes this limit per session, not globally, so two sessions may each
// have an open transaction on the same thread simultaneously.
func (s *Session) Transaction(mode txn.Mode, owner any) (*txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if _, ok := s.open[owner]; ok {
		return nil, txn.ErrConcurrentTransactionOnThread
	}
	tx := s.ks.NewTransaction(mode, owner, s.parser, func() {
		s.onTransactionClosed(owner)
	})
	s.open[owner] = tx
	return tx, nil
}

func (s *Session) onTransactionClosed(owner any) {
	s.mu.Lock()
	delete(s.open, owner)
	s.mu.Unlock()
	// A commit may have happened; InvalidateAll is unconditionally safe
	// (Cache.checkFreshnessLocked would catch it anyway via CommitSeq,
	// this just avoids waiting for the next Get/Put to notice).
	s.cache.InvalidateAll()
}

// GetAttributesByValue serves get_attributes_by_value through this
// session's cache, falling back to owner's open transaction (or a fresh
// read transaction if none is open) on a cache miss.
func (s *Session) GetAttributesByValue(ctx context.Context, owner any, value any) ([]instance.Attribute, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if attrs, ok := s.cache.Get(value); ok {
		return attrs, nil
	}

	s.mu.Lock()
	tx, ownedHere := s.open[owner]
	closed = s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	if !ownedHere {
		var err error
		tx, err = s.Transaction(txn.ModeRead, owner)
		if err != nil {
			return nil, err
		}
		defer tx.Close(owner)
	}

	attrs, err := tx.GetAttributesByValue(ctx, owner, value)
	if err != nil {
		return nil, err
	}
	s.cache.Put(value, attrs)
	return attrs, nil
}

// Close closes every transaction this session has open and marks the
// session itself closed. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	txs := make([]*txn.Transaction, 0, len(s.open))
	owners := make([]any, 0, len(s.open))
	for owner, tx := range s.open {
		owners = append(owners, owner)
		txs = append(txs, tx)
	}
	s.mu.Unlock()

	for i, tx := range txs {
		_ = tx.Close(owners[i])
	}
	return nil
}
