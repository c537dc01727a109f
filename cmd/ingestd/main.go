package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/albapepper/ingestd/internal/aggregator"
	"github.com/albapepper/ingestd/internal/config"
	"github.com/albapepper/ingestd/internal/db"
	"github.com/albapepper/ingestd/internal/fanout"
	"github.com/albapepper/ingestd/internal/ingest"
	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/ops"
	"github.com/albapepper/ingestd/internal/provider/goalserve"
	"github.com/albapepper/ingestd/internal/ratelimit"
	"github.com/albapepper/ingestd/internal/scheduler"
	"github.com/albapepper/ingestd/internal/scheduler/jobstore"
	"github.com/albapepper/ingestd/internal/store"
	"github.com/albapepper/ingestd/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting ingestd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Tick Store ─────────────────────────────────────────────
	if err := db.EnsureSchema(ctx, cfg.DBDSN); err != nil {
		telemetry.Errorf("schema: %v", err)
		os.Exit(1)
	}
	pool, err := db.New(ctx, db.Config{
		DSN:         cfg.DBDSN,
		MinConns:    cfg.DBMinConns,
		MaxConns:    cfg.DBMaxConns,
		MaxConnLife: cfg.DBMaxConnLife,
	})
	if err != nil {
		telemetry.Errorf("tick store: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	tickStore := store.New(pool.Pool)
	go poolWatchdog(ctx, pool)

	// ── Upstream client ────────────────────────────────────────
	governor := ratelimit.NewDefault(cfg.MaxRPS, cfg.MaxRPM, cfg.MaxRPD)
	upstream := goalserve.NewClient(goalserve.Config{
		BaseURL:         cfg.UpstreamBaseURL,
		APIKey:          cfg.UpstreamKey,
		RequestTimeout:  cfg.RequestTimeout,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay,
		MaxBackoff:      cfg.MaxBackoff,
		RateWaitTimeout: cfg.RateWaitTimeout,
	}, governor)

	// ── Frame Aggregator ───────────────────────────────────────
	agg := aggregator.New(tickStore)

	// ── Live Ingestion Loop ────────────────────────────────────
	enabledLeagues, intervals, err := config.LoadOperatorConfig(cfg.OperatorConfigPath)
	if err != nil {
		telemetry.Errorf("operator config: %v", err)
		os.Exit(1)
	}
	liveLoop := ingest.New(upstream, tickStore, ingest.Config{
		EnabledLeagues:         enabledLeagues,
		Intervals:              intervals,
		Concurrency:            cfg.LiveConcurrency,
		ConsecFailThreshold:    cfg.ConsecFailThreshold,
		CooldownDuration:       cfg.CooldownDuration,
		ScoreDropConfirmWindow: cfg.ScoreDropConfirm,
	})

	// ── Fan-out Bridge ─────────────────────────────────────────
	bridge := fanout.New(tickStore, fanout.Config{
		RingSize:       cfg.FanoutRingSize,
		CatchupHorizon: cfg.FanoutCatchupHorizon,
		SlowConsumer:   cfg.FanoutSlowConsumer,
		PollInterval:   cfg.FanoutPollInterval,
	})
	go bridge.Run(ctx)
	go tickStore.ListenTickOutbox(ctx, bridge.Notify)

	fanoutServer := fanout.NewServer(bridge)
	go func() {
		if err := fanoutServer.ListenAndServe(cfg.FanoutPort); err != nil {
			telemetry.Errorf("fanout server: %v", err)
		}
	}()

	// ── Scheduler & Dispatch ───────────────────────────────────
	jobLedger, err := jobstore.Open(cfg.JobStorePath)
	if err != nil {
		telemetry.Errorf("jobstore: %v", err)
		os.Exit(1)
	}
	defer jobLedger.Close()

	sched := scheduler.New(jobLedger)
	registerRunners(sched, upstream, tickStore, agg, liveLoop, cfg)
	go func() {
		if err := sched.Run(ctx); err != nil {
			telemetry.Errorf("scheduler: %v", err)
		}
	}()

	// ── Operator surface ───────────────────────────────────────
	opsServer := ops.NewServer(sched, jobLedger, governor, pool, cfg.OperatorConfigPath)
	go func() {
		if err := opsServer.ListenAndServe(cfg.OpsPort); err != nil {
			telemetry.Errorf("ops server: %v", err)
		}
	}()
	go dependencyWatchdog(ctx, pool, cfg.FatalTimeout)

	// ── Shutdown ───────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Draining for %s...", cfg.DrainTimeout)
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	cancel()
	<-drainCtx.Done()

	telemetry.Infof("ingestd shutdown complete  pulls=%d  pull_failures=%d  rate_stalls=%d  dispatcher_drops=%d",
		telemetry.Metrics.PullsIssued.Value(),
		telemetry.Metrics.PullFailures.Value(),
		telemetry.Metrics.RateStalls.Value(),
		telemetry.Metrics.DispatcherDrops.Value(),
	)
}

// registerRunners binds the job catalog's names to the closures that
// actually execute them, each closing over the component it drives.
func registerRunners(sched *scheduler.Scheduler, upstream *goalserve.Client, st *store.Store, agg *aggregator.Aggregator, loop *ingest.Loop, cfg *config.Config) {
	sched.RegisterRunner("fixture_poll", func(ctx context.Context, _ model.Job) error {
		return pollFixtures(ctx, upstream, st, cfg, 7*24*time.Hour)
	})

	sched.RegisterRunner("live_trigger", func(ctx context.Context, _ model.Job) error {
		reloadLiveConfig(loop, cfg)
		return loop.Trigger(ctx)
	})

	sched.RegisterRunner("prematch_snapshot", func(ctx context.Context, _ model.Job) error {
		return snapshotPrematch(ctx, upstream, st)
	})

	sched.RegisterRunner("frame_maker", func(ctx context.Context, _ model.Job) error {
		return agg.MaterializeMostRecentlyClosed(ctx)
	})

	sched.RegisterRunner("finalizer", func(ctx context.Context, _ model.Job) error {
		return finalizeRecentlyFinished(ctx, upstream, st)
	})

	sched.RegisterRunner("weekly_refresh", func(ctx context.Context, _ model.Job) error {
		// No separate league/team/venue dimension endpoint is exposed by
		// the upstream client; a deep fixture refresh over a longer
		// horizon picks up the same dimension changes as a side effect.
		return pollFixtures(ctx, upstream, st, cfg, 30*24*time.Hour)
	})

	sched.RegisterRunner("retention_maintenance", func(ctx context.Context, _ model.Job) error {
		return st.ApplyRetention(ctx, store.DefaultRetentionPolicy())
	})
}

// reloadLiveConfig re-reads the operator config file and pushes it into
// the live loop, so a file edit takes effect at the very next trigger
// without a restart.
func reloadLiveConfig(loop *ingest.Loop, cfg *config.Config) {
	enabledLeagues, intervals, err := config.LoadOperatorConfig(cfg.OperatorConfigPath)
	if err != nil {
		telemetry.Warnf("live_trigger: reload operator config: %v", err)
		return
	}
	loop.SetConfig(ingest.Config{
		EnabledLeagues:         enabledLeagues,
		Intervals:              intervals,
		Concurrency:            cfg.LiveConcurrency,
		ConsecFailThreshold:    cfg.ConsecFailThreshold,
		CooldownDuration:       cfg.CooldownDuration,
		ScoreDropConfirmWindow: cfg.ScoreDropConfirm,
	})
}

// pollFixtures refreshes every enabled league's schedule over the next
// horizon.
func pollFixtures(ctx context.Context, upstream *goalserve.Client, st *store.Store, cfg *config.Config, horizon time.Duration) error {
	enabledLeagues, _, err := config.LoadOperatorConfig(cfg.OperatorConfigPath)
	if err != nil {
		return err
	}
	if len(enabledLeagues) == 0 {
		// Every league is in scope; FixturesByDate treats league 0 as all.
		enabledLeagues = map[int]bool{0: true}
	}

	now := time.Now().UTC()
	for league := range enabledLeagues {
		for d := 0; d*24 < int(horizon.Hours()); d += 1 {
			date := now.AddDate(0, 0, d)
			fixtures, err := upstream.FixturesByDate(ctx, date, league)
			if err != nil {
				telemetry.Warnf("fixture_poll: league=%d date=%s: %v", league, date.Format("2006-01-02"), err)
				continue
			}
			for _, f := range fixtures {
				if err := st.UpsertFixture(ctx, f); err != nil {
					telemetry.Warnf("fixture_poll: upsert fixture=%d: %v", f.ID, err)
				}
			}
		}
	}
	return nil
}

// snapshotPrematch captures one price per (bookmaker, market, outcome)
// for fixtures kicking off within the next 24h.
func snapshotPrematch(ctx context.Context, upstream *goalserve.Client, st *store.Store) error {
	upcoming, err := st.FixturesLive(ctx, []model.Status{model.StatusNS, model.StatusTBD})
	if err != nil {
		return err
	}

	horizon := time.Now().Add(24 * time.Hour)
	for _, f := range upcoming {
		if f.Kickoff.After(horizon) {
			continue
		}
		prices, err := upstream.PrematchOdds(ctx, f.ID, f.Kickoff)
		if err != nil {
			telemetry.Warnf("prematch_snapshot: fixture=%d: %v", f.ID, err)
			continue
		}
		if len(prices) == 0 {
			continue
		}
		if err := st.SnapshotPrematchOdds(ctx, prices); err != nil {
			telemetry.Warnf("prematch_snapshot: store fixture=%d: %v", f.ID, err)
		}
	}
	return nil
}

// finalizeRecentlyFinished requests one last event/stat pull for
// fixtures that finished 30-35 minutes ago:
// a 5-minute job cadence against a 5-minute acceptance window fires
// exactly once per fixture without a persisted "already finalized" flag.
func finalizeRecentlyFinished(ctx context.Context, upstream *goalserve.Client, st *store.Store) error {
	finished, err := st.FixturesLive(ctx, []model.Status{
		model.StatusFT, model.StatusAET, model.StatusPEN, model.StatusAWD, model.StatusWO,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, f := range finished {
		age := now.Sub(f.StatusChangedAt)
		if age < 30*time.Minute || age >= 35*time.Minute {
			continue
		}

		evts, err := upstream.Events(ctx, f.ID, now)
		if err != nil {
			telemetry.Warnf("finalizer: events fixture=%d: %v", f.ID, err)
		} else if len(evts) > 0 {
			if err := st.InsertEventTicks(ctx, f.ID, evts); err != nil {
				telemetry.Warnf("finalizer: store events fixture=%d: %v", f.ID, err)
			}
		}

		stats, err := upstream.Statistics(ctx, f.ID, now)
		if err != nil {
			telemetry.Warnf("finalizer: stats fixture=%d: %v", f.ID, err)
		} else if len(stats) > 0 {
			if err := st.InsertStatTicks(ctx, f.ID, stats); err != nil {
				telemetry.Warnf("finalizer: store stats fixture=%d: %v", f.ID, err)
			}
		}
	}
	return nil
}

// dependencyWatchdog probes the database every 15s and exits with code 2
// once it has been continuously unreachable for longer than fatalAfter.
// Draining makes no sense with the store gone; the supervisor restarts
// the process instead.
func dependencyWatchdog(ctx context.Context, pool *db.Pool, fatalAfter time.Duration) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var downSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := pool.HealthCheck(pingCtx)
			cancel()
			if err == nil {
				downSince = time.Time{}
				continue
			}
			if downSince.IsZero() {
				downSince = time.Now()
				telemetry.Warnf("watchdog: database unreachable: %v", err)
				continue
			}
			if time.Since(downSince) > fatalAfter {
				telemetry.Errorf("watchdog: database unreachable for %s, giving up", time.Since(downSince).Round(time.Second))
				os.Exit(2)
			}
		}
	}
}

// poolWatchdog logs when the shared connection pool's utilization stays
// above 80% for more than 30s.
func poolWatchdog(ctx context.Context, pool *db.Pool) {
	const (
		threshold = 0.8
		sustain   = 30 * time.Second
		interval  = 5 * time.Second
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var highSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u := pool.Utilization()
			if u <= threshold {
				highSince = time.Time{}
				continue
			}
			if highSince.IsZero() {
				highSince = time.Now()
				continue
			}
			if time.Since(highSince) > sustain {
				telemetry.Warnf("db pool: utilization %.0f%% sustained for %s", u*100, time.Since(highSince).Round(time.Second))
				telemetry.Metrics.DBPoolUtilization.Set(int64(u * 100))
			}
		}
	}
}
