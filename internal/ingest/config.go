package ingest

import (
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

// Config is the live loop's hot-reloadable tunables; the enabled-leagues
// set and per-kind intervals may change at runtime and take effect at
// the next trigger.
type Config struct {
	// EnabledLeagues restricts F_live to these league IDs. Empty means
	// every league is enabled.
	EnabledLeagues map[int]bool

	// Intervals is the per-kind due interval.
	Intervals map[model.TickKind]time.Duration

	// Concurrency bounds the pull-plan worker pool (W_live).
	Concurrency int

	// ConsecFailThreshold is K_consec_fail: consecutive failures for the
	// same (fixture, kind) before it is put on cooldown.
	ConsecFailThreshold int

	// CooldownDuration is T_cooldown.
	CooldownDuration time.Duration

	// ScoreDropConfirmWindow is how long a score regression must repeat
	// before it is accepted (see internal/scoredrop).
	ScoreDropConfirmWindow time.Duration
}

// DefaultConfig returns the loop's stock tunables.
func DefaultConfig() Config {
	return Config{
		Intervals: map[model.TickKind]time.Duration{
			model.KindOdds:  10 * time.Second,
			model.KindEvent: 5 * time.Second,
			model.KindStat:  15 * time.Second,
		},
		Concurrency:            5,
		ConsecFailThreshold:    5,
		CooldownDuration:       10 * time.Minute,
		ScoreDropConfirmWindow: 30 * time.Second,
	}
}

func (c Config) leagueEnabled(leagueID int) bool {
	if len(c.EnabledLeagues) == 0 {
		return true
	}
	return c.EnabledLeagues[leagueID]
}

func (c Config) interval(kind model.TickKind) time.Duration {
	if d, ok := c.Intervals[kind]; ok {
		return d
	}
	return DefaultConfig().Intervals[kind]
}
