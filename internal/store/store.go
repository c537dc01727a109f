// Package store is the tick store: the write path for ticks and
// snapshots, the read path for recent windows and catch-up, and the
// retention/compression maintenance loop over the time-partitioned
// tables.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a connection pool with the tick store's prepared
// statement names. It holds no other state; the pool is shared with the
// aggregator, the live loop, the scheduler's runners, and the bridge.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. Every write path's batch is all-or
// nothing; a failed batch emits no change note.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
