package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil tx for wrong type")
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestPick_PrefersTransaction(t *testing.T) {
	tx := &fakeTx{}
	ctx := ContextWithTx(context.Background(), tx)
	if got := Pick(ctx, nil); got != tx {
		t.Fatalf("expected the context transaction, got %v", got)
	}
	if got := Pick(context.Background(), nil); got != nil {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestPoolTransactor_JoinsExistingTx(t *testing.T) {
	tx := &fakeTx{}
	ctx := ContextWithTx(context.Background(), tx)

	called := false
	err := NewTransactor(nil).InTx(ctx, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) != tx {
			t.Error("expected the outer transaction to be reused")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run without error, called=%v err=%v", called, err)
	}
}

func TestNopTransactor_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := NopTransactor{}.InTx(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
