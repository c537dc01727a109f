package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/ingestd/internal/model"
)

// InsertEventTicks bulk-appends an event batch in one transaction.
func (s *Store) InsertEventTicks(ctx context.Context, fixtureID int, batch []model.EventTick) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, e := range batch {
			if _, err := tx.Exec(ctx, "insert_event_tick",
				e.Fixture, e.Instant, e.MatchMinute, e.ExtraMinute, e.Type, e.Detail, e.Team, e.Player, e.Assist, e.Comment,
			); err != nil {
				return fmt.Errorf("insert event tick: %w", err)
			}
		}
		return writeOutboxNote(ctx, tx, fixtureID, model.NoteEventUpdate, batch)
	})
}

// LatestEventTicks returns event ticks for fixtureID observed strictly
// after since, ordered ascending.
func (s *Store) LatestEventTicks(ctx context.Context, fixtureID int, since time.Time) ([]model.EventTick, error) {
	rows, err := s.pool.Query(ctx, "latest_event_ticks", fixtureID, since)
	if err != nil {
		return nil, fmt.Errorf("query latest event ticks: %w", err)
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
