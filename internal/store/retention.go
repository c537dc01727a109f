package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/albapepper/ingestd/internal/telemetry"
)

// RetentionPolicy configures how long each time-partitioned table keeps
// uncompressed rows, and rows at all.
type RetentionPolicy struct {
	OddsCompressAfter  time.Duration
	OddsDeleteAfter    time.Duration
	EventCompressAfter time.Duration
	EventDeleteAfter   time.Duration
	StatCompressAfter  time.Duration
	StatDeleteAfter    time.Duration
	FrameRetain        time.Duration
}

// DefaultRetentionPolicy is the stock policy.
func DefaultRetentionPolicy() RetentionPolicy {
	day := 24 * time.Hour
	return RetentionPolicy{
		OddsCompressAfter:  7 * day,
		OddsDeleteAfter:    30 * day,
		EventCompressAfter: 7 * day,
		EventDeleteAfter:   90 * day,
		StatCompressAfter:  7 * day,
		StatDeleteAfter:    60 * day,
		FrameRetain:        90 * day,
	}
}

// ApplyRetention runs one pass of the maintenance loop, driven by the
// retention_maintenance job rather than the write path. It compresses
// chunks past their compress horizon and drops chunks past their delete
// horizon, logging how much aged out.
func (s *Store) ApplyRetention(ctx context.Context, policy RetentionPolicy) error {
	steps := []struct {
		label         string
		compress      string
		drop          string
		compressAfter time.Duration
		deleteAfter   time.Duration
	}{
		{"live_odds_tick", "compress_odds_chunks", "drop_odds_chunks", policy.OddsCompressAfter, policy.OddsDeleteAfter},
		{"live_event_tick", "compress_event_chunks", "drop_event_chunks", policy.EventCompressAfter, policy.EventDeleteAfter},
		{"live_stat_tick", "compress_stat_chunks", "drop_stat_chunks", policy.StatCompressAfter, policy.StatDeleteAfter},
	}

	start := time.Now()
	for _, st := range steps {
		if _, err := s.pool.Exec(ctx, st.compress, st.compressAfter.String()); err != nil {
			return fmt.Errorf("compress %s chunks: %w", st.label, err)
		}
		tag, err := s.pool.Exec(ctx, st.drop, st.deleteAfter.String())
		if err != nil {
			return fmt.Errorf("drop %s chunks: %w", st.label, err)
		}
		telemetry.Infof("retention: %s compressed chunks older than %s, dropped %s chunks older than %s",
			st.label, st.compressAfter, humanize.Comma(tag.RowsAffected()), st.deleteAfter)
	}

	if _, err := s.pool.Exec(ctx, "drop_frame_chunks", policy.FrameRetain.String()); err != nil {
		return fmt.Errorf("drop match_live_frame chunks: %w", err)
	}

	telemetry.Infof("retention: full pass completed in %s", time.Since(start))
	return nil
}
