package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the subset of pgx the repositories query through. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so a repository joins an open transaction when the
// caller started one and talks to the pool otherwise.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

// ConnFromContext returns the transaction carried by ctx, or nil if none.
func ConnFromContext(ctx context.Context) Conn {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// TxRunner is the transaction boundary services run their multi-entity
// updates through.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolRunner is the Postgres-backed TxRunner.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

func (r PoolRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, r.Pool, fn)
}

// InlineRunner runs fn directly with no transaction. Memory-backed setups
// use it; the in-memory repositories do their own locking.
type InlineRunner struct{}

func (InlineRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// WithTx runs fn inside a transaction. The transaction is placed in the
// context handed to fn, so every repository call inside fn shares it. Any
// error from fn rolls the whole transaction back; nothing is committed
// piecemeal.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if ConnFromContext(ctx) != nil {
		// Already inside a transaction, just run in it.
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
