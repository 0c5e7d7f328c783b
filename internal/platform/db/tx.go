package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a transaction at the given isolation
// level. The transaction is rolled back unless fn returns nil, so a failed
// write is never partially visible to subsequent reads.
//
// Callers that pair a row lock with re-reads of concurrently written data
// must use pgx.ReadCommitted: repeatable-read snapshots are pinned at the
// first statement, before any lock wait, so reads after the lock would not
// see what the lock holder committed.
func WithTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
