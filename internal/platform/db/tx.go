package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Transactor runs fn inside a database transaction. Repositories called
// with the ctx handed to fn join the transaction via ConnFromContext.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager is the pgx Transactor.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithTx begins on the request-scoped connection when there is one so the
// schema search_path carries over. Nested calls reuse the outer transaction.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var b beginner
	if conn, ok := ctx.Value(DBConnKey).(*pgxpool.Conn); ok && conn != nil {
		b = conn
	} else if m.pool != nil {
		b = m.pool
	}
	if b == nil {
		return fmt.Errorf("no database connection available")
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TxFromContext returns the open transaction, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// RunInTx calls t.WithTx, or fn directly when t is nil. Services accept a
// nil Transactor so they can run against in-memory repositories.
func RunInTx(ctx context.Context, t Transactor, fn func(ctx context.Context) error) error {
	if t == nil {
		return fn(ctx)
	}
	return t.WithTx(ctx, fn)
}
