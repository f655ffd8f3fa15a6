package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotClaimed signals a conditional ticket write that found the guard no
// longer satisfied at commit time.
var ErrNotClaimed = errors.New("ticket not claimable")

// DBTX is the querier surface shared by *pgxpool.Pool and pgx.Tx, so the
// same repository code runs inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner executes a function within a single database transaction. Ticket
// mutations commit their status change, assignments, envelopes and history
// rows as one atomic unit through it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type pgxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner wraps a pgx pool as a TxRunner.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return &pgxRunner{pool: pool}
}

func (r *pgxRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
