// Package ingest is the live ingestion loop: on every trigger it
// enumerates currently in-play fixtures, computes each one's due set of
// (odds, events, stats) pulls, and executes a bounded-concurrency pull
// plan through the upstream client, writing normalized ticks via the
// tick store.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/scoredrop"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// Provider is the subset of the upstream client the live loop calls.
type Provider interface {
	FixturesLive(ctx context.Context) ([]model.Fixture, error)
	LiveOdds(ctx context.Context, fixtureID int, observedAt time.Time, matchMinute *int) ([]model.OddsTick, error)
	Events(ctx context.Context, fixtureID int, observedAt time.Time) ([]model.EventTick, error)
	Statistics(ctx context.Context, fixtureID int, observedAt time.Time) ([]model.StatTick, error)
}

// Store is the subset of the tick store the live loop calls.
type Store interface {
	FixturesLive(ctx context.Context, statuses []model.Status) ([]model.Fixture, error)
	UpsertFixture(ctx context.Context, f model.Fixture) error
	CloseFixture(ctx context.Context, f model.Fixture) error
	InsertOddsTicks(ctx context.Context, fixtureID int, batch []model.OddsTick) error
	InsertEventTicks(ctx context.Context, fixtureID int, batch []model.EventTick) error
	InsertStatTicks(ctx context.Context, fixtureID int, batch []model.StatTick) error
}

var liveStatuses = []model.Status{
	model.Status1H, model.StatusHT, model.Status2H, model.StatusET, model.StatusBT, model.StatusP,
}

type pullKey struct {
	Fixture int
	Kind    model.TickKind
}

type pullState struct {
	lastPulled    time.Time
	consecFail    int
	cooldownUntil time.Time
}

// Loop runs the live ingestion cycle.
type Loop struct {
	provider Provider
	store    Store

	cfg atomic.Pointer[Config]

	mu    sync.Mutex
	state map[pullKey]*pullState

	dropMu   sync.Mutex
	dropTrck map[int]*scoredrop.Tracker
}

func New(provider Provider, store Store, cfg Config) *Loop {
	l := &Loop{
		provider: provider,
		store:    store,
		state:    make(map[pullKey]*pullState),
		dropTrck: make(map[int]*scoredrop.Tracker),
	}
	l.SetConfig(cfg)
	return l
}

// SetConfig hot-swaps the loop's config; it takes effect at the next
// trigger.
func (l *Loop) SetConfig(cfg Config) {
	c := cfg
	l.cfg.Store(&c)
}

func (l *Loop) config() Config {
	return *l.cfg.Load()
}

// Trigger runs one live_trigger cycle. It is safe to call
// concurrently with itself only if the caller serializes triggers (the
// scheduler's interval job does); Trigger does not self-overlap-guard.
func (l *Loop) Trigger(ctx context.Context) error {
	cfg := l.config()

	if err := l.refreshLiveFixtures(ctx, cfg); err != nil {
		telemetry.Errorf("ingest: refresh live fixtures: %v", err)
	}

	fixtures, err := l.store.FixturesLive(ctx, liveStatuses)
	if err != nil {
		return fmt.Errorf("enumerate live fixtures: %w", err)
	}

	var enabled []model.Fixture
	for _, f := range fixtures {
		if f.IsEnabled(cfg.EnabledLeagues) {
			enabled = append(enabled, f)
		}
	}
	telemetry.Metrics.ActiveFixtures.Set(int64(len(enabled)))

	if len(enabled) == 0 {
		return nil
	}

	plan := l.buildPullPlan(enabled, cfg)
	if len(plan) == 0 {
		return nil
	}

	return l.executePlan(ctx, plan, cfg)
}

// refreshLiveFixtures pulls the upstream live list once per trigger and
// updates the store's fixture rows: newly-live fixtures are upserted,
// fixtures no longer reported live are closed.
func (l *Loop) refreshLiveFixtures(ctx context.Context, cfg Config) error {
	upstream, err := l.provider.FixturesLive(ctx)
	if err != nil {
		return err
	}
	upstreamByID := make(map[int]model.Fixture, len(upstream))
	for _, f := range upstream {
		upstreamByID[f.ID] = f
	}

	tracked, err := l.store.FixturesLive(ctx, liveStatuses)
	if err != nil {
		return fmt.Errorf("load tracked live fixtures: %w", err)
	}

	now := time.Now().UTC()
	for _, cur := range tracked {
		fresh, ok := upstreamByID[cur.ID]
		if !ok {
			// No longer present in the upstream live list: treat as finished.
			cur.Status = model.StatusFT
			cur.StatusChangedAt = now
			if err := l.store.CloseFixture(ctx, cur); err != nil {
				telemetry.Errorf("ingest: close fixture %d: %v", cur.ID, err)
			}
			l.forgetFixture(cur.ID)
			continue
		}
		delete(upstreamByID, cur.ID)

		merged := l.mergeFixtureUpdate(cur, fresh, cfg)
		if merged.Status.IsTerminalInactive() {
			merged.StatusChangedAt = now
			if err := l.store.CloseFixture(ctx, merged); err != nil {
				telemetry.Errorf("ingest: close fixture %d: %v", merged.ID, err)
			}
			l.forgetFixture(merged.ID)
			continue
		}
		if err := l.store.UpsertFixture(ctx, merged); err != nil {
			telemetry.Errorf("ingest: upsert fixture %d: %v", merged.ID, err)
		}
	}

	// Whatever remains in upstreamByID is newly live.
	for _, f := range upstreamByID {
		f.StatusChangedAt = now
		if err := l.store.UpsertFixture(ctx, f); err != nil {
			telemetry.Errorf("ingest: upsert new live fixture %d: %v", f.ID, err)
		}
	}
	return nil
}

// mergeFixtureUpdate applies an upstream refresh onto the tracked
// fixture row, holding back a score regression until scoredrop confirms
// or rejects it.
func (l *Loop) mergeFixtureUpdate(cur, fresh model.Fixture, cfg Config) model.Fixture {
	merged := cur
	merged.Status = fresh.Status
	merged.Elapsed = fresh.Elapsed

	tracker := l.trackerFor(cur.ID)
	verdict := tracker.CheckDrop(cur.FullTime.Home, cur.FullTime.Away, fresh.FullTime.Home, fresh.FullTime.Away, cfg.ScoreDropConfirmWindow)
	switch verdict {
	case scoredrop.VerdictAccept, scoredrop.VerdictConfirmed:
		merged.FullTime = fresh.FullTime
	case scoredrop.VerdictPending, scoredrop.VerdictNewDrop, scoredrop.VerdictRejected:
		// keep cur.FullTime until confirmed, or forever if rejected
	}
	return merged
}

func (l *Loop) trackerFor(fixtureID int) *scoredrop.Tracker {
	l.dropMu.Lock()
	defer l.dropMu.Unlock()
	t, ok := l.dropTrck[fixtureID]
	if !ok {
		t = &scoredrop.Tracker{}
		l.dropTrck[fixtureID] = t
	}
	return t
}

func (l *Loop) forgetFixture(fixtureID int) {
	l.dropMu.Lock()
	delete(l.dropTrck, fixtureID)
	l.dropMu.Unlock()

	l.mu.Lock()
	for _, kind := range []model.TickKind{model.KindOdds, model.KindEvent, model.KindStat} {
		delete(l.state, pullKey{fixtureID, kind})
	}
	l.mu.Unlock()
}

// pullTask is one (fixture, kind) entry in the ordered pull plan.
type pullTask struct {
	fixture   model.Fixture
	kind      model.TickKind
	staleness time.Duration
}

// buildPullPlan computes the due set for every enabled live fixture and
// flattens it into a plan ordered by staleness descending.
func (l *Loop) buildPullPlan(fixtures []model.Fixture, cfg Config) []pullTask {
	now := time.Now().UTC()
	var plan []pullTask

	l.mu.Lock()
	for _, f := range fixtures {
		for _, kind := range []model.TickKind{model.KindOdds, model.KindEvent, model.KindStat} {
			key := pullKey{f.ID, kind}
			st, ok := l.state[key]
			if !ok {
				st = &pullState{}
				l.state[key] = st
			}
			if now.Before(st.cooldownUntil) {
				continue
			}
			due := st.lastPulled.IsZero() || now.Sub(st.lastPulled) >= cfg.interval(kind)
			if !due {
				continue
			}
			staleness := now.Sub(st.lastPulled)
			if st.lastPulled.IsZero() {
				staleness = time.Duration(1<<62 - 1) // never pulled: maximally stale
			}
			plan = append(plan, pullTask{fixture: f, kind: kind, staleness: staleness})
		}
	}
	l.mu.Unlock()

	sort.Slice(plan, func(i, j int) bool { return plan[i].staleness > plan[j].staleness })
	return plan
}

// executePlan runs the pull plan through a bounded worker pool of size
// cfg.Concurrency (W_live).
func (l *Loop) executePlan(ctx context.Context, plan []pullTask, cfg Config) error {
	sem := semaphore.NewWeighted(int64(cfg.Concurrency))
	g, ctx := errgroup.WithContext(ctx)

	for _, task := range plan {
		task := task
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			l.executeOne(ctx, task, cfg)
			return nil
		})
	}
	return g.Wait()
}

func (l *Loop) executeOne(ctx context.Context, task pullTask, cfg Config) {
	start := time.Now()
	var err error
	switch task.kind {
	case model.KindOdds:
		err = l.pullOdds(ctx, task.fixture)
	case model.KindEvent:
		err = l.pullEvents(ctx, task.fixture)
	case model.KindStat:
		err = l.pullStats(ctx, task.fixture)
	}
	telemetry.Metrics.PullsIssued.Inc()
	telemetry.Metrics.PullLatency.Record(time.Since(start))

	key := pullKey{task.fixture.ID, task.kind}
	l.mu.Lock()
	st := l.state[key]
	if st == nil {
		st = &pullState{}
		l.state[key] = st
	}
	if err != nil {
		telemetry.Metrics.PullFailures.Inc()
		telemetry.Warnf("ingest: pull failed fixture=%d kind=%s: %v", task.fixture.ID, task.kind, err)
		st.consecFail++
		if st.consecFail >= cfg.ConsecFailThreshold {
			st.cooldownUntil = time.Now().Add(cfg.CooldownDuration)
			telemetry.Warnf("ingest: fixture=%d kind=%s on cooldown until %s", task.fixture.ID, task.kind, st.cooldownUntil)
		}
	} else {
		st.consecFail = 0
		st.lastPulled = time.Now().UTC()
	}
	l.mu.Unlock()
}

func (l *Loop) pullOdds(ctx context.Context, f model.Fixture) error {
	now := time.Now().UTC()
	elapsed := f.Elapsed
	ticks, err := l.provider.LiveOdds(ctx, f.ID, now, &elapsed)
	if err != nil {
		return fmt.Errorf("fetch live odds: %w", err)
	}
	if err := l.store.InsertOddsTicks(ctx, f.ID, ticks); err != nil {
		return fmt.Errorf("write odds ticks: %w", err)
	}
	return nil
}

func (l *Loop) pullEvents(ctx context.Context, f model.Fixture) error {
	now := time.Now().UTC()
	ticks, err := l.provider.Events(ctx, f.ID, now)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	if err := l.store.InsertEventTicks(ctx, f.ID, ticks); err != nil {
		return fmt.Errorf("write event ticks: %w", err)
	}
	return nil
}

func (l *Loop) pullStats(ctx context.Context, f model.Fixture) error {
	now := time.Now().UTC()
	ticks, err := l.provider.Statistics(ctx, f.ID, now)
	if err != nil {
		return fmt.Errorf("fetch statistics: %w", err)
	}
	if err := l.store.InsertStatTicks(ctx, f.ID, ticks); err != nil {
		return fmt.Errorf("write stat ticks: %w", err)
	}
	return nil
}
