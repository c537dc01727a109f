package store

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

// FixturesWithActivity returns the set of fixture IDs that had at least
// one odds-tick or event-tick whose instant falls in [from, to): the
// frame aggregator's per-cycle candidate set.
func (s *Store) FixturesWithActivity(ctx context.Context, from, to time.Time) ([]int, error) {
	rows, err := s.pool.Query(ctx, "fixtures_with_activity_in_window", from, to)
	if err != nil {
		return nil, fmt.Errorf("query fixtures with activity: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fixture id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// OddsTicksInWindow returns odds ticks for fixtureID whose instant falls
// in [from, to), ordered ascending.
func (s *Store) OddsTicksInWindow(ctx context.Context, fixtureID int, from, to time.Time) ([]model.OddsTick, error) {
	rows, err := s.pool.Query(ctx, "odds_ticks_in_window", fixtureID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query odds ticks in window: %w", err)
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

// EventTicksInWindow returns event ticks for fixtureID whose instant
// falls in [from, to), ordered ascending.
func (s *Store) EventTicksInWindow(ctx context.Context, fixtureID int, from, to time.Time) ([]model.EventTick, error) {
	rows, err := s.pool.Query(ctx, "event_ticks_in_window", fixtureID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query event ticks in window: %w", err)
	}
	defer rows.Close()

	var out []model.EventTick
	for rows.Next() {
		var e model.EventTick
		if err := rows.Scan(&e.Fixture, &e.Instant, &e.MatchMinute, &e.ExtraMinute, &e.Type, &e.Detail, &e.Team, &e.Player, &e.Assist, &e.Comment); err != nil {
			return nil, fmt.Errorf("scan event tick: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
