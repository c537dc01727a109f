// Package db provides the Tick Store's pgxpool-based connection pool,
// with prepared statement registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the pool's tunables.
type Config struct {
	DSN         string
	MinConns    int32
	MaxConns    int32
	MaxConnLife time.Duration
}

func defaults(c Config) Config {
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.MaxConns == 0 {
		c.MaxConns = 20
	}
	if c.MaxConnLife == 0 {
		c.MaxConnLife = time.Hour
	}
	return c
}

// Pool wraps pgxpool.Pool with application-specific helpers. One pool
// is shared across every component that touches Postgres.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool against cfg.DSN.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	cfg = defaults(cfg)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Utilization reports the pool's current fraction of max conns in use,
// for the watchdog that logs when utilization stays above 80% for more
// than 30s.
func (p *Pool) Utilization() float64 {
	stat := p.Stat()
	max := stat.MaxConns()
	if max == 0 {
		return 0
	}
	return float64(stat.AcquiredConns()) / float64(max)
}

// registerPreparedStatements registers every statement the tick store's
// write and read paths use, eliminating parse overhead on the hot path.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		"health_check": "SELECT 1",

		"insert_odds_tick": `
			INSERT INTO live_odds_tick (fixture, bookmaker, market, outcome, instant, price, match_minute)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (fixture, bookmaker, market, outcome, instant) DO NOTHING`,

		"insert_event_tick": `
			INSERT INTO live_event_tick (fixture, instant, match_minute, extra_minute, type, detail, team, player, assist, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,

		"insert_stat_tick": `
			INSERT INTO live_stat_tick (fixture, team, instant, shots_on_goal, shots_off_goal, total_shots,
				possession_pct, corners, fouls, yellow_cards, red_cards, total_passes, passes_accurate, passes_pct)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,

		"insert_prematch_odds": `
			INSERT INTO prematch_odds (fixture, bookmaker, market, outcome, sampled_at, price, hours_before_match)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,

		"latest_odds_ticks": `
			SELECT fixture, bookmaker, market, outcome, instant, price, match_minute
			FROM live_odds_tick WHERE fixture = $1 AND instant > $2 ORDER BY instant ASC`,

		"latest_event_ticks": `
			SELECT fixture, instant, match_minute, extra_minute, type, detail, team, player, assist, comment
			FROM live_event_tick WHERE fixture = $1 AND instant > $2 ORDER BY instant ASC`,

		"latest_stat_ticks": `
			SELECT fixture, team, instant, shots_on_goal, shots_off_goal, total_shots, possession_pct,
				corners, fouls, yellow_cards, red_cards, total_passes, passes_accurate, passes_pct
			FROM live_stat_tick WHERE fixture = $1 AND instant > $2 ORDER BY instant ASC`,

		"odds_ticks_in_window": `
			SELECT fixture, bookmaker, market, outcome, instant, price, match_minute
			FROM live_odds_tick WHERE fixture = $1 AND instant >= $2 AND instant < $3 ORDER BY instant ASC`,

		"event_ticks_in_window": `
			SELECT fixture, instant, match_minute, extra_minute, type, detail, team, player, assist, comment
			FROM live_event_tick WHERE fixture = $1 AND instant >= $2 AND instant < $3 ORDER BY instant ASC`,

		"fixtures_with_activity_in_window": `
			SELECT DISTINCT fixture FROM (
				SELECT fixture FROM live_odds_tick WHERE instant >= $1 AND instant < $2
				UNION
				SELECT fixture FROM live_event_tick WHERE instant >= $1 AND instant < $2
			) f`,

		"upsert_frame": `
			INSERT INTO match_live_frame (fixture, bucket_start, home_team, away_team, status, elapsed,
				home_goals, away_goals, avg_home_odd, avg_draw_odd, avg_away_odd,
				home_implied_prob, draw_implied_prob, away_implied_prob,
				home_odd_delta, away_odd_delta, goals_in_bucket, cards_in_bucket, subs_in_bucket,
				odds_ticks_in_bucket, event_ticks_in_bucket)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (fixture, bucket_start) DO UPDATE SET
				home_team = EXCLUDED.home_team, away_team = EXCLUDED.away_team,
				status = EXCLUDED.status, elapsed = EXCLUDED.elapsed,
				home_goals = EXCLUDED.home_goals, away_goals = EXCLUDED.away_goals,
				avg_home_odd = EXCLUDED.avg_home_odd, avg_draw_odd = EXCLUDED.avg_draw_odd, avg_away_odd = EXCLUDED.avg_away_odd,
				home_implied_prob = EXCLUDED.home_implied_prob, draw_implied_prob = EXCLUDED.draw_implied_prob, away_implied_prob = EXCLUDED.away_implied_prob,
				home_odd_delta = EXCLUDED.home_odd_delta, away_odd_delta = EXCLUDED.away_odd_delta,
				goals_in_bucket = EXCLUDED.goals_in_bucket, cards_in_bucket = EXCLUDED.cards_in_bucket, subs_in_bucket = EXCLUDED.subs_in_bucket,
				odds_ticks_in_bucket = EXCLUDED.odds_ticks_in_bucket, event_ticks_in_bucket = EXCLUDED.event_ticks_in_bucket`,

		"frames_for_window": `
			SELECT fixture, bucket_start, home_team, away_team, status, elapsed, home_goals, away_goals,
				avg_home_odd, avg_draw_odd, avg_away_odd, home_implied_prob, draw_implied_prob, away_implied_prob,
				home_odd_delta, away_odd_delta, goals_in_bucket, cards_in_bucket, subs_in_bucket,
				odds_ticks_in_bucket, event_ticks_in_bucket
			FROM match_live_frame WHERE fixture = $1 AND bucket_start >= $2 ORDER BY bucket_start ASC`,

		"fixture_by_id": `
			SELECT id, league_id, season, round, venue_id, home_team_id, away_team_id, kickoff,
				status, elapsed, full_home, full_away, half_home, half_away, extra_home, extra_away,
				pen_home, pen_away, status_changed_at
			FROM fixture WHERE id = $1`,

		"fixtures_live": `
			SELECT id, league_id, season, round, venue_id, home_team_id, away_team_id, kickoff,
				status, elapsed, full_home, full_away, half_home, half_away, extra_home, extra_away,
				pen_home, pen_away, status_changed_at
			FROM fixture WHERE status = ANY($1)`,

		"upsert_fixture": `
			INSERT INTO fixture (id, league_id, season, round, venue_id, home_team_id, away_team_id, kickoff,
				status, elapsed, full_home, full_away, half_home, half_away, extra_home, extra_away,
				pen_home, pen_away, status_changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status, elapsed = EXCLUDED.elapsed,
				full_home = EXCLUDED.full_home, full_away = EXCLUDED.full_away,
				half_home = EXCLUDED.half_home, half_away = EXCLUDED.half_away,
				extra_home = EXCLUDED.extra_home, extra_away = EXCLUDED.extra_away,
				pen_home = EXCLUDED.pen_home, pen_away = EXCLUDED.pen_away,
				status_changed_at = EXCLUDED.status_changed_at`,

		"outbox_tail": `
			SELECT id, fixture_id, type, payload, created_at
			FROM tick_outbox WHERE id > $1 ORDER BY id ASC LIMIT $2`,

		"outbox_for_fixture_since": `
			SELECT id, fixture_id, type, payload, created_at
			FROM tick_outbox WHERE fixture_id = $1 AND created_at >= $2 ORDER BY id ASC LIMIT $3`,

		"compress_odds_chunks": `SELECT compress_chunk(c, if_not_compressed => true)
			FROM show_chunks('live_odds_tick', older_than => $1::interval) c`,
		"drop_odds_chunks": `SELECT drop_chunks('live_odds_tick', older_than => $1::interval)`,
		"compress_event_chunks": `SELECT compress_chunk(c, if_not_compressed => true)
			FROM show_chunks('live_event_tick', older_than => $1::interval) c`,
		"drop_event_chunks": `SELECT drop_chunks('live_event_tick', older_than => $1::interval)`,
		"compress_stat_chunks": `SELECT compress_chunk(c, if_not_compressed => true)
			FROM show_chunks('live_stat_tick', older_than => $1::interval) c`,
		"drop_stat_chunks":  `SELECT drop_chunks('live_stat_tick', older_than => $1::interval)`,
		"drop_frame_chunks": `SELECT drop_chunks('match_live_frame', older_than => $1::interval)`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
