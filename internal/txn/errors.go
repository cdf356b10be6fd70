// Package txn implements the Transaction: a short-lived, thread-affine
// view of a keyspace that stages mutations, validates them against the
// schema graph on commit, and persists the result through a vertex/edge
// store. It is the mediator named in SPEC_FULL.md §4.3 — it owns no
// storage of its own, delegating ID minting to internal/ids, structural
// validation to internal/schema, and persistence to an instance.Store.
package txn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vaultgraph/graphd/internal/schema"
)

// Sentinel errors matching the stable taxonomy in SPEC_FULL.md §7.
// Errors.Is is the intended comparison; wrapped context never hides the
// sentinel.
var (
	// ErrTransactionClosed is raised by any operation on a transaction
	// that has already committed, closed, or is being used from a thread
	// other than the one that opened it (the two cases are
	// indistinguishable by design, per the thread-affinity rule).
	ErrTransactionClosed = errors.New("txn: transaction closed")

	// ErrReadOnly is raised on a read-mode transaction by
	// CheckMutationAllowed and by Execute's insert and delete statements.
	// The Put* methods and define statements stage in read mode without
	// raising it.
	ErrReadOnly = errors.New("txn: transaction is read-only")

	// ErrReadOnlyCommit is raised by Commit when a read-mode transaction
	// has staged mutations (through the Put* methods or a define
	// statement, which do not check the mode when staging).
	ErrReadOnlyCommit = errors.New("txn: cannot commit mutations on a read-only transaction")

	// ErrSessionClosed names the session-closed error of the taxonomy.
	// Nothing in this package returns it: a transaction its session has
	// closed reports ErrTransactionClosed, and internal/session returns
	// its own session.ErrSessionClosed.
	ErrSessionClosed = errors.New("txn: session closed")

	// ErrConcurrentTransactionOnThread is raised by Session.Transaction
	// when the calling thread already has an open transaction on this
	// session.
	ErrConcurrentTransactionOnThread = errors.New("txn: thread already has an open transaction on this session")

	// ErrMixedMutationKinds is raised when a transaction that has already
	// staged schema changes attempts to stage instance changes, or vice
	// versa. See stagedMutations' doc comment for why.
	ErrMixedMutationKinds = errors.New("txn: cannot mix schema and instance mutations in one transaction")

	// ErrUnknownType is raised by an operation that references a type,
	// role, or rule label that does not resolve against the schema graph.
	ErrUnknownType = errors.New("txn: unknown schema label")
)

// ValidationFailed is raised by Commit when the schema validator reports
// one or more diagnostics. The transaction is closed by the time the
// caller observes this error.
type ValidationFailed struct {
	Diagnostics []schema.Diagnostic
}

func (e *ValidationFailed) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = d.Message
	}
	return fmt.Sprintf("txn: validation failed: %s", strings.Join(msgs, "; "))
}

// PoolError reclassifies an internal/ids failure observed during commit
// into the stable taxonomy: PoolExhausted and PoolTimeout are fatal to
// the transaction, PoolBackend is retryable, matching SPEC_FULL.md §7.
type PoolError struct {
	Kind string // "exhausted" | "timeout" | "backend" | "closed"
	Err  error
}

func (e *PoolError) Error() string { return fmt.Sprintf("txn: id pool %s: %v", e.Kind, e.Err) }
func (e *PoolError) Unwrap() error { return e.Err }
