package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/vaultgraph/graphd/internal/query"
)

func TestTransactionCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeRead, owner, query.NewRecognizer(), nil)

	if err := tx.Close(owner); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tx.Close(owner); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, err := tx.GetEntityType(owner, "person"); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("expected ErrTransactionClosed after Close, got %v", err)
	}
}

func TestTransactionCrossThreadUseIsRejected(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeWrite, owner, query.NewRecognizer(), nil)
	defer tx.Close(owner)

	if _, err := tx.PutEntityType("thread-2", "person"); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("expected ErrTransactionClosed for foreign owner, got %v", err)
	}
	// The rightful owner still works.
	if _, err := tx.PutEntityType(owner, "person"); err != nil {
		t.Fatalf("PutEntityType from rightful owner: %v", err)
	}
}

func TestTransactionReadOnlyRejectsMutation(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeRead, owner, query.NewRecognizer(), nil)
	defer tx.Close(owner)

	if _, err := tx.Execute(ctx, owner, `insert $x isa person;`); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestPutEntityTypeIsIdempotentByLabel(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeWrite, owner, query.NewRecognizer(), nil)
	defer tx.Close(owner)

	id1, err := tx.PutEntityType(owner, "person")
	if err != nil {
		t.Fatalf("PutEntityType: %v", err)
	}
	id2, err := tx.PutEntityType(owner, "person")
	if err != nil {
		t.Fatalf("PutEntityType (second call): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same concept ID for repeated put_entity_type, got %d and %d", id1, id2)
	}
}

func TestMixingSchemaAndInstanceMutationsIsRejected(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeWrite, owner, query.NewRecognizer(), nil)
	defer tx.Close(owner)

	if _, err := tx.PutEntityType(owner, "person"); err != nil {
		t.Fatalf("PutEntityType: %v", err)
	}
	if _, err := tx.Execute(ctx, owner, `insert $x isa person;`); !errors.Is(err, ErrMixedMutationKinds) {
		t.Fatalf("expected ErrMixedMutationKinds, got %v", err)
	}
}

func TestCommitOnClosedTransactionIsNoop(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeWrite, owner, query.NewRecognizer(), nil)
	if err := tx.Close(owner); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tx.Commit(ctx, owner); err != nil {
		t.Fatalf("Commit on a closed transaction should be a no-op, got %v", err)
	}
}

func TestEmptyCommitIsNoop(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeWrite, owner, query.NewRecognizer(), nil)
	if err := tx.Commit(ctx, owner); err != nil {
		t.Fatalf("Commit with nothing staged: %v", err)
	}
	if _, err := tx.Execute(ctx, owner, `insert $x isa person;`); err == nil {
		t.Fatalf("expected transaction to already be closed after its empty commit")
	}
}

func TestCommitRejectsSchemaChangeStagedOnReadOnlyTransaction(t *testing.T) {
	ctx := context.Background()
	ks, err := newTestKeyspace(ctx)
	if err != nil {
		t.Fatalf("newTestKeyspace: %v", err)
	}
	owner := "thread-1"
	tx := ks.NewTransaction(ModeRead, owner, query.NewRecognizer(), nil)

	// PutEntityType stages directly: unlike CheckMutationAllowed and
	// Execute's insert/delete statements, it does not reject a ModeRead
	// mutation up front — so Commit itself must still reject it.
	if _, err := tx.PutEntityType(owner, "person"); err != nil {
		t.Fatalf("PutEntityType on a read-mode transaction: %v", err)
	}
	if err := tx.Commit(ctx, owner); !errors.Is(err, ErrReadOnlyCommit) {
		t.Fatalf("expected ErrReadOnlyCommit, got %v", err)
	}
	if _, _, err := tx.GetEntityType(owner, "person"); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("expected transaction closed after a failed commit, got %v", err)
	}
}
