package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/ingestd/internal/model"
)

func scanFixture(row interface {
	Scan(dest ...any) error
}) (model.Fixture, error) {
	var f model.Fixture
	var status string
	err := row.Scan(
		&f.ID, &f.LeagueID, &f.Season, &f.Round, &f.VenueID, &f.HomeTeamID, &f.AwayTeamID, &f.Kickoff,
		&status, &f.Elapsed,
		&f.FullTime.Home, &f.FullTime.Away, &f.HalfTime.Home, &f.HalfTime.Away,
		&f.ExtraTime.Home, &f.ExtraTime.Away, &f.Penalty.Home, &f.Penalty.Away,
		&f.StatusChangedAt,
	)
	f.Status = model.Status(status)
	return f, err
}

// FixtureByID returns one fixture row.
func (s *Store) FixtureByID(ctx context.Context, id int) (model.Fixture, error) {
	f, err := scanFixture(s.pool.QueryRow(ctx, "fixture_by_id", id))
	if err != nil {
		return model.Fixture{}, fmt.Errorf("fixture %d: %w", id, err)
	}
	return f, nil
}

// FixturesLive returns every fixture currently in one of the given
// statuses.
func (s *Store) FixturesLive(ctx context.Context, statuses []model.Status) ([]model.Fixture, error) {
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, "fixtures_live", strs)
	if err != nil {
		return nil, fmt.Errorf("query fixtures live: %w", err)
	}
	defer rows.Close()

	var out []model.Fixture
	for rows.Next() {
		f, err := scanFixture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fixture: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertFixture inserts or updates a fixture row (the fixture poll job
// and the live loop's status-refresh both call this).
func (s *Store) UpsertFixture(ctx context.Context, f model.Fixture) error {
	_, err := s.pool.Exec(ctx, "upsert_fixture",
		f.ID, f.LeagueID, f.Season, f.Round, f.VenueID, f.HomeTeamID, f.AwayTeamID, f.Kickoff,
		string(f.Status), f.Elapsed,
		f.FullTime.Home, f.FullTime.Away, f.HalfTime.Home, f.HalfTime.Away,
		f.ExtraTime.Home, f.ExtraTime.Away, f.Penalty.Home, f.Penalty.Away,
		f.StatusChangedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert fixture %d: %w", f.ID, err)
	}
	return nil
}

// CloseFixture transitions f to a terminal-inactive status and emits a
// fixture_closed note in the same transaction.
func (s *Store) CloseFixture(ctx context.Context, f model.Fixture) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "upsert_fixture",
			f.ID, f.LeagueID, f.Season, f.Round, f.VenueID, f.HomeTeamID, f.AwayTeamID, f.Kickoff,
			string(f.Status), f.Elapsed,
			f.FullTime.Home, f.FullTime.Away, f.HalfTime.Home, f.HalfTime.Away,
			f.ExtraTime.Home, f.ExtraTime.Away, f.Penalty.Home, f.Penalty.Away,
			f.StatusChangedAt,
		); err != nil {
			return fmt.Errorf("close fixture %d: %w", f.ID, err)
		}
		return writeOutboxNote(ctx, tx, f.ID, model.NoteFixtureClosed, f)
	})
}
