package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ddl is the durable state of the pipeline: the fixture dimension table,
// the three time-partitioned tick hypertables, the prematch snapshot
// table, the per-minute frame table, and the tick_outbox the fan-out
// bridge tails. Statements are ordered so each one only depends on what
// ran before it.
var ddl = []string{
	`CREATE EXTENSION IF NOT EXISTS timescaledb`,

	`CREATE TABLE IF NOT EXISTS fixture (
		id                BIGINT PRIMARY KEY,
		league_id         BIGINT NOT NULL,
		season            INT NOT NULL DEFAULT 0,
		round             TEXT NOT NULL DEFAULT '',
		venue_id          BIGINT NOT NULL DEFAULT 0,
		home_team_id      BIGINT NOT NULL,
		away_team_id      BIGINT NOT NULL,
		kickoff           TIMESTAMPTZ NOT NULL,
		status            TEXT NOT NULL,
		elapsed           INT NOT NULL DEFAULT 0,
		full_home         INT NOT NULL DEFAULT 0,
		full_away         INT NOT NULL DEFAULT 0,
		half_home         INT NOT NULL DEFAULT 0,
		half_away         INT NOT NULL DEFAULT 0,
		extra_home        INT NOT NULL DEFAULT 0,
		extra_away        INT NOT NULL DEFAULT 0,
		pen_home          INT NOT NULL DEFAULT 0,
		pen_away          INT NOT NULL DEFAULT 0,
		status_changed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fixture_status ON fixture (status)`,
	`CREATE INDEX IF NOT EXISTS idx_fixture_kickoff ON fixture (kickoff)`,

	`CREATE TABLE IF NOT EXISTS live_odds_tick (
		fixture      BIGINT NOT NULL,
		bookmaker    INT NOT NULL,
		market       INT NOT NULL,
		outcome      TEXT NOT NULL,
		instant      TIMESTAMPTZ NOT NULL,
		price        DOUBLE PRECISION NOT NULL CHECK (price > 0),
		match_minute INT,
		UNIQUE (fixture, bookmaker, market, outcome, instant)
	)`,
	`SELECT create_hypertable('live_odds_tick', 'instant', if_not_exists => TRUE)`,
	`ALTER TABLE live_odds_tick SET (
		timescaledb.compress,
		timescaledb.compress_segmentby = 'fixture, bookmaker, market',
		timescaledb.compress_orderby = 'instant DESC'
	)`,

	`CREATE TABLE IF NOT EXISTS live_event_tick (
		fixture      BIGINT NOT NULL,
		instant      TIMESTAMPTZ NOT NULL,
		match_minute INT NOT NULL DEFAULT 0,
		extra_minute INT,
		type         TEXT NOT NULL,
		detail       TEXT NOT NULL DEFAULT '',
		team         BIGINT,
		player       BIGINT,
		assist       BIGINT,
		comment      TEXT NOT NULL DEFAULT ''
	)`,
	`SELECT create_hypertable('live_event_tick', 'instant', if_not_exists => TRUE)`,
	`ALTER TABLE live_event_tick SET (
		timescaledb.compress,
		timescaledb.compress_segmentby = 'fixture',
		timescaledb.compress_orderby = 'instant DESC'
	)`,

	`CREATE TABLE IF NOT EXISTS live_stat_tick (
		fixture         BIGINT NOT NULL,
		team            BIGINT NOT NULL,
		instant         TIMESTAMPTZ NOT NULL,
		shots_on_goal   INT,
		shots_off_goal  INT,
		total_shots     INT,
		possession_pct  DOUBLE PRECISION CHECK (possession_pct >= 0 AND possession_pct <= 100),
		corners         INT,
		fouls           INT,
		yellow_cards    INT,
		red_cards       INT,
		total_passes    INT,
		passes_accurate INT,
		passes_pct      DOUBLE PRECISION
	)`,
	`SELECT create_hypertable('live_stat_tick', 'instant', if_not_exists => TRUE)`,
	`ALTER TABLE live_stat_tick SET (
		timescaledb.compress,
		timescaledb.compress_segmentby = 'fixture, team',
		timescaledb.compress_orderby = 'instant DESC'
	)`,

	`CREATE TABLE IF NOT EXISTS prematch_odds (
		fixture            BIGINT NOT NULL,
		bookmaker          INT NOT NULL,
		market             INT NOT NULL,
		outcome            TEXT NOT NULL,
		sampled_at         TIMESTAMPTZ NOT NULL,
		price              DOUBLE PRECISION NOT NULL CHECK (price > 0),
		hours_before_match DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prematch_odds_fixture ON prematch_odds (fixture, sampled_at)`,

	`CREATE TABLE IF NOT EXISTS match_live_frame (
		fixture              BIGINT NOT NULL,
		bucket_start         TIMESTAMPTZ NOT NULL,
		home_team            BIGINT NOT NULL,
		away_team            BIGINT NOT NULL,
		status               TEXT NOT NULL,
		elapsed              INT NOT NULL DEFAULT 0,
		home_goals           INT NOT NULL DEFAULT 0,
		away_goals           INT NOT NULL DEFAULT 0,
		avg_home_odd         DOUBLE PRECISION,
		avg_draw_odd         DOUBLE PRECISION,
		avg_away_odd         DOUBLE PRECISION,
		home_implied_prob    DOUBLE PRECISION,
		draw_implied_prob    DOUBLE PRECISION,
		away_implied_prob    DOUBLE PRECISION,
		home_odd_delta       DOUBLE PRECISION,
		away_odd_delta       DOUBLE PRECISION,
		goals_in_bucket      INT NOT NULL DEFAULT 0,
		cards_in_bucket      INT NOT NULL DEFAULT 0,
		subs_in_bucket       INT NOT NULL DEFAULT 0,
		odds_ticks_in_bucket INT NOT NULL DEFAULT 0,
		event_ticks_in_bucket INT NOT NULL DEFAULT 0,
		UNIQUE (fixture, bucket_start)
	)`,
	`SELECT create_hypertable('match_live_frame', 'bucket_start', if_not_exists => TRUE)`,

	`CREATE TABLE IF NOT EXISTS tick_outbox (
		id         BIGSERIAL PRIMARY KEY,
		fixture_id BIGINT NOT NULL,
		type       TEXT NOT NULL,
		payload    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tick_outbox_fixture ON tick_outbox (fixture_id, created_at)`,
}

// EnsureSchema applies the DDL on a dedicated connection. Run before the
// pool is created: the pool's AfterConnect hook prepares statements
// against these tables, so they must exist first. Every statement is
// idempotent, so re-running on startup is safe.
func EnsureSchema(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect for schema: %w", err)
	}
	defer conn.Close(ctx)

	for _, stmt := range ddl {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
