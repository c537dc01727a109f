// Package aggregator advances match_live_frame forward in time for
// every fixture with activity in the most recently closed 1-minute
// window.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// Market1X2 is the provider's market identifier for the full-time
// 1X2 (home/draw/away) market, whose odds the frame's avg columns
// summarize. GoalServe-style feeds use small integer market IDs;
// this is the value the upstream client normalizes that market to.
const Market1X2 = 1

// Store is the subset of internal/store's Tick Store that the
// aggregator depends on, kept narrow so tests can supply a fake.
type Store interface {
	FixturesWithActivity(ctx context.Context, from, to time.Time) ([]int, error)
	OddsTicksInWindow(ctx context.Context, fixtureID int, from, to time.Time) ([]model.OddsTick, error)
	EventTicksInWindow(ctx context.Context, fixtureID int, from, to time.Time) ([]model.EventTick, error)
	FixtureByID(ctx context.Context, id int) (model.Fixture, error)
	UpsertFrame(ctx context.Context, f model.Frame) error
}

// Aggregator runs the per-minute materialization cycle.
type Aggregator struct {
	store Store

	mu         sync.Mutex
	lastWindow map[int]time.Time // fixture -> most recently materialized bucket start
	prevCycle  time.Time         // target window of the previous cycle

	locks lockRegistry
}

func New(store Store) *Aggregator {
	return &Aggregator{
		store:      store,
		lastWindow: make(map[int]time.Time),
	}
}

// MaterializeMostRecentlyClosed computes the most recently closed
// 1-minute window relative to now and materializes every fixture with
// activity in it. If a cycle falls behind (the caller invokes this
// later than 60s after the prior call), it simply targets whatever
// window is now most recently closed, skipping forward rather than
// catching up; it never reaches back further than the current call's
// window.
func (a *Aggregator) MaterializeMostRecentlyClosed(ctx context.Context) error {
	now := time.Now().UTC()
	bucketEnd := now.Truncate(time.Minute)
	bucketStart := bucketEnd.Add(-time.Minute)

	a.mu.Lock()
	lag := time.Duration(0)
	if !a.prevCycle.IsZero() {
		if gap := bucketStart.Sub(a.prevCycle) - time.Minute; gap > 0 {
			lag = gap
		}
	}
	a.prevCycle = bucketStart
	a.mu.Unlock()
	telemetry.Metrics.FramesLagSeconds.Set(int64(lag.Seconds()))
	if lag > 0 {
		telemetry.Warnf("aggregator: skipped forward %s to window %s", lag, bucketStart.Format(time.RFC3339))
	}

	return a.MaterializeWindow(ctx, bucketStart)
}

// MaterializeWindow materializes the window [bucketStart, bucketStart+60s)
// for every fixture with activity in it. Exposed separately so a window
// other than the most recently closed one can be requested. A fixture
// whose frame was already materialized for a later window is skipped
// (counted in late_ticks_dropped); older windows are not reopened.
func (a *Aggregator) MaterializeWindow(ctx context.Context, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(time.Minute)

	fixtures, err := a.store.FixturesWithActivity(ctx, bucketStart, bucketEnd)
	if err != nil {
		return fmt.Errorf("list fixtures with activity: %w", err)
	}

	for _, fixtureID := range fixtures {
		if err := a.materializeFixture(ctx, fixtureID, bucketStart, bucketEnd); err != nil {
			telemetry.Errorf("aggregator: materialize fixture=%d window=%s: %v", fixtureID, bucketStart, err)
		}
	}
	return nil
}

func (a *Aggregator) materializeFixture(ctx context.Context, fixtureID int, bucketStart, bucketEnd time.Time) error {
	key := model.Key{Fixture: fixtureID, BucketStart: bucketStart}
	unlock := a.locks.lock(key)
	defer unlock()

	a.mu.Lock()
	last, seen := a.lastWindow[fixtureID]
	if seen && bucketStart.Before(last) {
		a.mu.Unlock()
		telemetry.Metrics.LateTicksDropped.Inc()
		return nil
	}
	a.mu.Unlock()

	oddsTicks, err := a.store.OddsTicksInWindow(ctx, fixtureID, bucketStart, bucketEnd)
	if err != nil {
		return fmt.Errorf("load odds ticks: %w", err)
	}
	eventTicks, err := a.store.EventTicksInWindow(ctx, fixtureID, bucketStart, bucketEnd)
	if err != nil {
		return fmt.Errorf("load event ticks: %w", err)
	}
	if len(oddsTicks) == 0 && len(eventTicks) == 0 {
		return nil
	}

	fixture, err := a.store.FixtureByID(ctx, fixtureID)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}

	frame := buildFrame(fixture, bucketStart, oddsTicks, eventTicks)
	if err := a.store.UpsertFrame(ctx, frame); err != nil {
		return fmt.Errorf("upsert frame: %w", err)
	}

	a.mu.Lock()
	a.lastWindow[fixtureID] = bucketStart
	a.mu.Unlock()
	return nil
}

// buildFrame is the pure computation step, separated from I/O so that
// re-materializing the same window from the same ticks is bit-for-bit
// identical.
func buildFrame(fixture model.Fixture, bucketStart time.Time, oddsTicks []model.OddsTick, eventTicks []model.EventTick) model.Frame {
	f := model.Frame{
		Fixture:            fixture.ID,
		BucketStart:        bucketStart,
		HomeTeamID:         fixture.HomeTeamID,
		AwayTeamID:         fixture.AwayTeamID,
		Status:             fixture.Status,
		Elapsed:            fixture.Elapsed,
		HomeGoals:          fixture.FullTime.Home,
		AwayGoals:          fixture.FullTime.Away,
		OddsTicksInBucket:  len(oddsTicks),
		EventTicksInBucket: len(eventTicks),
	}

	byOutcome := map[string][]model.OddsTick{}
	for _, t := range oddsTicks {
		if t.Market != Market1X2 {
			continue
		}
		byOutcome[t.Outcome] = append(byOutcome[t.Outcome], t)
	}
	for outcome, ticks := range byOutcome {
		sort.Slice(ticks, func(i, j int) bool { return ticks[i].Instant.Before(ticks[j].Instant) })
		byOutcome[outcome] = ticks
	}

	avg := func(outcome string) *float64 {
		ticks := byOutcome[outcome]
		if len(ticks) == 0 {
			return nil
		}
		var sum float64
		for _, t := range ticks {
			sum += t.Price
		}
		v := sum / float64(len(ticks))
		return &v
	}
	delta := func(outcome string) *float64 {
		ticks := byOutcome[outcome]
		if len(ticks) == 0 {
			return nil
		}
		v := ticks[len(ticks)-1].Price - ticks[0].Price
		return &v
	}

	f.AvgHomeOdd = avg("1")
	f.AvgDrawOdd = avg("X")
	f.AvgAwayOdd = avg("2")
	f.HomeOddDelta = delta("1")
	f.AwayOddDelta = delta("2")

	if f.AvgHomeOdd != nil && f.AvgDrawOdd != nil && f.AvgAwayOdd != nil {
		hp, dp, ap := removeVig3(*f.AvgHomeOdd, *f.AvgDrawOdd, *f.AvgAwayOdd)
		f.HomeImpliedProb, f.DrawImpliedProb, f.AwayImpliedProb = &hp, &dp, &ap
	}

	for _, e := range eventTicks {
		switch e.EventCategory() {
		case "goal":
			f.GoalsInBucket++
		case "card":
			f.CardsInBucket++
		case "subst":
			f.SubsInBucket++
		}
	}

	return f
}

// lockRegistry hands out a per-key mutex so frame materialization for a
// window never runs concurrently with itself for the same
// (fixture, window).
type lockRegistry struct {
	mu    sync.Mutex
	locks map[model.Key]*sync.Mutex
}

func (r *lockRegistry) lock(key model.Key) func() {
	r.mu.Lock()
	if r.locks == nil {
		r.locks = make(map[model.Key]*sync.Mutex)
	}
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
