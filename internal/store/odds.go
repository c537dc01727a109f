package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// InsertOddsTicks bulk-appends an odds batch in one transaction. Rows
// with price <= 0 are dropped and counted rather than failing the
// batch. Natural-key duplicates are silently
// dropped by the prepared statement's ON CONFLICT DO NOTHING. On success,
// one outbox note is written in the same transaction so it becomes
// visible to the bridge only once the batch commits.
func (s *Store) InsertOddsTicks(ctx context.Context, fixtureID int, batch []model.OddsTick) error {
	valid := filterValidOdds(batch)
	if len(valid) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range valid {
			if _, err := tx.Exec(ctx, "insert_odds_tick",
				t.Fixture, t.Bookmaker, t.Market, t.Outcome, t.Instant, t.Price, t.MatchMinute,
			); err != nil {
				return fmt.Errorf("insert odds tick: %w", err)
			}
		}
		return writeOutboxNote(ctx, tx, fixtureID, model.NoteOddsUpdate, valid)
	})
}

// LatestOddsTicks returns odds ticks for fixtureID observed strictly
// after since, ordered ascending. Used by the aggregator and by
// catch-up's storage fallback.
func (s *Store) LatestOddsTicks(ctx context.Context, fixtureID int, since time.Time) ([]model.OddsTick, error) {
	rows, err := s.pool.Query(ctx, "latest_odds_ticks", fixtureID, since)
	if err != nil {
		return nil, fmt.Errorf("query latest odds ticks: %w", err)
	}
	defer rows.Close()

	var out []model.OddsTick
	for rows.Next() {
		var t model.OddsTick
		if err := rows.Scan(&t.Fixture, &t.Bookmaker, &t.Market, &t.Outcome, &t.Instant, &t.Price, &t.MatchMinute); err != nil {
			return nil, fmt.Errorf("scan odds tick: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// filterValidOdds drops rows with price <= 0, counting each as a
// validation_dropped observation.
func filterValidOdds(batch []model.OddsTick) []model.OddsTick {
	valid := make([]model.OddsTick, 0, len(batch))
	for _, t := range batch {
		if t.Price <= 0 {
			telemetry.Metrics.ValidationDropped.Inc()
			telemetry.Warnf("store: dropping odds tick fixture=%d bookmaker=%d market=%d outcome=%s: price <= 0", t.Fixture, t.Bookmaker, t.Market, t.Outcome)
			continue
		}
		valid = append(valid, t)
	}
	return valid
}

func writeOutboxNote(ctx context.Context, tx pgx.Tx, fixtureID int, typ model.NoteType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tick_outbox (fixture_id, type, payload, created_at) VALUES ($1, $2, $3, now())`,
		fixtureID, string(typ), body,
	); err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify('tick_outbox', $1)`, fmt.Sprintf("%d", fixtureID)); err != nil {
		return fmt.Errorf("notify tick_outbox: %w", err)
	}
	return nil
}
