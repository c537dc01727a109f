package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/ingestd/internal/model"
)

// SnapshotPrematchOdds appends a prematch odds batch. No outbox note is
// written; prematch snapshots are not part of the live fan-out topic
// scheme.
func (s *Store) SnapshotPrematchOdds(ctx context.Context, batch []model.PrematchOdds) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, p := range batch {
			if _, err := tx.Exec(ctx, "insert_prematch_odds",
				p.Fixture, p.Bookmaker, p.Market, p.Outcome, p.SampledAt, p.Price, p.HoursBeforeGame,
			); err != nil {
				return fmt.Errorf("insert prematch odds: %w", err)
			}
		}
		return nil
	})
}
