package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// InsertStatTicks bulk-appends a stat batch in one transaction. A row
// whose possession_pct falls outside [0,100] is dropped and counted
// rather than failing the batch.
func (s *Store) InsertStatTicks(ctx context.Context, fixtureID int, batch []model.StatTick) error {
	valid := filterValidStats(batch)
	if len(valid) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range valid {
			if _, err := tx.Exec(ctx, "insert_stat_tick",
				t.Fixture, t.Team, t.Instant, t.ShotsOnGoal, t.ShotsOffGoal, t.TotalShots,
				t.PossessionPct, t.Corners, t.Fouls, t.YellowCards, t.RedCards,
				t.TotalPasses, t.PassesAccurate, t.PassesPct,
			); err != nil {
				return fmt.Errorf("insert stat tick: %w", err)
			}
		}
		return writeOutboxNote(ctx, tx, fixtureID, model.NoteStatsUpdate, valid)
	})
}

// filterValidStats drops rows whose possession_pct falls outside
// [0,100].
func filterValidStats(batch []model.StatTick) []model.StatTick {
	valid := make([]model.StatTick, 0, len(batch))
	for _, t := range batch {
		if t.PossessionPct != nil && (*t.PossessionPct < 0 || *t.PossessionPct > 100) {
			telemetry.Metrics.ValidationDropped.Inc()
			telemetry.Warnf("store: dropping stat tick fixture=%d team=%d: possession_pct %.2f out of range", t.Fixture, t.Team, *t.PossessionPct)
			continue
		}
		valid = append(valid, t)
	}
	return valid
}

// LatestStatTicks returns stat ticks for fixtureID observed strictly
// after since, ordered ascending.
func (s *Store) LatestStatTicks(ctx context.Context, fixtureID int, since time.Time) ([]model.StatTick, error) {
	rows, err := s.pool.Query(ctx, "latest_stat_ticks", fixtureID, since)
	if err != nil {
		return nil, fmt.Errorf("query latest stat ticks: %w", err)
	}
	defer rows.Close()

	var out []model.StatTick
	for rows.Next() {
		var t model.StatTick
		if err := rows.Scan(
			&t.Fixture, &t.Team, &t.Instant, &t.ShotsOnGoal, &t.ShotsOffGoal, &t.TotalShots, &t.PossessionPct,
			&t.Corners, &t.Fouls, &t.YellowCards, &t.RedCards, &t.TotalPasses, &t.PassesAccurate, &t.PassesPct,
		); err != nil {
			return nil, fmt.Errorf("scan stat tick: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
