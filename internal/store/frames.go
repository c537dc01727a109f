package store

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

// UpsertFrame writes one materialized match_live_frame row, idempotent
// on (fixture, bucket_start).
func (s *Store) UpsertFrame(ctx context.Context, f model.Frame) error {
	_, err := s.pool.Exec(ctx, "upsert_frame",
		f.Fixture, f.BucketStart, f.HomeTeamID, f.AwayTeamID, string(f.Status), f.Elapsed,
		f.HomeGoals, f.AwayGoals, f.AvgHomeOdd, f.AvgDrawOdd, f.AvgAwayOdd,
		f.HomeImpliedProb, f.DrawImpliedProb, f.AwayImpliedProb,
		f.HomeOddDelta, f.AwayOddDelta, f.GoalsInBucket, f.CardsInBucket, f.SubsInBucket,
		f.OddsTicksInBucket, f.EventTicksInBucket,
	)
	if err != nil {
		return fmt.Errorf("upsert frame fixture=%d bucket=%s: %w", f.Fixture, f.BucketStart, err)
	}
	return nil
}

// Frames returns already-materialized frames for fixtureID at or after
// window, ordered ascending.
func (s *Store) Frames(ctx context.Context, fixtureID int, window time.Time) ([]model.Frame, error) {
	rows, err := s.pool.Query(ctx, "frames_for_window", fixtureID, window)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []model.Frame
	for rows.Next() {
		var f model.Frame
		var status string
		if err := rows.Scan(
			&f.Fixture, &f.BucketStart, &f.HomeTeamID, &f.AwayTeamID, &status, &f.Elapsed,
			&f.HomeGoals, &f.AwayGoals, &f.AvgHomeOdd, &f.AvgDrawOdd, &f.AvgAwayOdd,
			&f.HomeImpliedProb, &f.DrawImpliedProb, &f.AwayImpliedProb,
			&f.HomeOddDelta, &f.AwayOddDelta, &f.GoalsInBucket, &f.CardsInBucket, &f.SubsInBucket,
			&f.OddsTicksInBucket, &f.EventTicksInBucket,
		); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.Status = model.Status(status)
		out = append(out, f)
	}
	return out, rows.Err()
}
