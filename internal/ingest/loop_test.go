package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/ingestd/internal/model"
)

type fakeProvider struct {
	mu        sync.Mutex
	live      []model.Fixture
	oddsCalls int
	failOdds  bool
}

func (p *fakeProvider) FixturesLive(ctx context.Context) ([]model.Fixture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Fixture(nil), p.live...), nil
}

func (p *fakeProvider) LiveOdds(ctx context.Context, fixtureID int, observedAt time.Time, matchMinute *int) ([]model.OddsTick, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oddsCalls++
	if p.failOdds {
		return nil, assertErr{"upstream unavailable"}
	}
	return []model.OddsTick{{Fixture: fixtureID, Market: 1, Outcome: "1", Price: 2.0, Instant: observedAt}}, nil
}

func (p *fakeProvider) Events(ctx context.Context, fixtureID int, observedAt time.Time) ([]model.EventTick, error) {
	return nil, nil
}

func (p *fakeProvider) Statistics(ctx context.Context, fixtureID int, observedAt time.Time) ([]model.StatTick, error) {
	return nil, nil
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

type fakeStore struct {
	mu        sync.Mutex
	fixtures  map[int]model.Fixture
	closed    []model.Fixture
	oddsTicks map[int][]model.OddsTick
}

func newFakeStore() *fakeStore {
	return &fakeStore{fixtures: map[int]model.Fixture{}, oddsTicks: map[int][]model.OddsTick{}}
}

func (s *fakeStore) FixturesLive(ctx context.Context, statuses []model.Status) ([]model.Fixture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Fixture
	for _, f := range s.fixtures {
		if f.Status.IsLive() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertFixture(ctx context.Context, f model.Fixture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixtures[f.ID] = f
	return nil
}

func (s *fakeStore) CloseFixture(ctx context.Context, f model.Fixture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fixtures, f.ID)
	s.closed = append(s.closed, f)
	return nil
}

func (s *fakeStore) InsertOddsTicks(ctx context.Context, fixtureID int, batch []model.OddsTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oddsTicks[fixtureID] = append(s.oddsTicks[fixtureID], batch...)
	return nil
}

func (s *fakeStore) InsertEventTicks(ctx context.Context, fixtureID int, batch []model.EventTick) error {
	return nil
}

func (s *fakeStore) InsertStatTicks(ctx context.Context, fixtureID int, batch []model.StatTick) error {
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Intervals[model.KindOdds] = 10 * time.Second
	cfg.Intervals[model.KindEvent] = time.Hour
	cfg.Intervals[model.KindStat] = time.Hour
	cfg.Concurrency = 4
	cfg.ConsecFailThreshold = 2
	cfg.CooldownDuration = time.Minute
	return cfg
}

func TestTrigger_PullsDueFixtureAndRecordsLastPulled(t *testing.T) {
	provider := &fakeProvider{live: []model.Fixture{{ID: 1, Status: model.Status1H, Elapsed: 10}}}
	store := newFakeStore()
	store.fixtures[1] = model.Fixture{ID: 1, Status: model.Status1H, Elapsed: 10}

	loop := New(provider, store, testConfig())
	require.NoError(t, loop.Trigger(context.Background()))

	assert.Equal(t, 1, provider.oddsCalls)
	assert.Len(t, store.oddsTicks[1], 1)
	assert.False(t, loop.state[pullKey{1, model.KindOdds}].lastPulled.IsZero(), "a successful pull records last_pulled")
}

func TestTrigger_SkipsNotYetDuePull(t *testing.T) {
	provider := &fakeProvider{live: []model.Fixture{{ID: 1, Status: model.Status1H}}}
	store := newFakeStore()
	store.fixtures[1] = model.Fixture{ID: 1, Status: model.Status1H}

	loop := New(provider, store, testConfig())
	require.NoError(t, loop.Trigger(context.Background()))
	require.NoError(t, loop.Trigger(context.Background()))

	assert.Equal(t, 1, provider.oddsCalls, "second trigger immediately after the first must not re-pull odds before its 10s interval")
}

func TestTrigger_CooldownAfterConsecutiveFailures(t *testing.T) {
	provider := &fakeProvider{live: []model.Fixture{{ID: 1, Status: model.Status1H}}, failOdds: true}
	store := newFakeStore()
	store.fixtures[1] = model.Fixture{ID: 1, Status: model.Status1H}

	cfg := testConfig()
	cfg.Intervals[model.KindOdds] = 0 // always due, to isolate the failure-count path

	loop := New(provider, store, cfg)
	require.NoError(t, loop.Trigger(context.Background()))
	require.NoError(t, loop.Trigger(context.Background()))
	require.NoError(t, loop.Trigger(context.Background()))

	assert.Equal(t, 2, provider.oddsCalls, "ConsecFailThreshold=2 must put the (fixture,kind) pair on cooldown after the second failure")
}

func TestTrigger_ClosesFixtureNoLongerLive(t *testing.T) {
	provider := &fakeProvider{live: nil}
	store := newFakeStore()
	store.fixtures[1] = model.Fixture{ID: 1, Status: model.Status1H}

	loop := New(provider, store, testConfig())
	require.NoError(t, loop.Trigger(context.Background()))

	require.Len(t, store.closed, 1)
	assert.Equal(t, model.StatusFT, store.closed[0].Status)
}

func TestTrigger_HoldsBackScoreRegressionUntilConfirmed(t *testing.T) {
	provider := &fakeProvider{live: []model.Fixture{{ID: 1, Status: model.Status1H, FullTime: model.Score{Home: 2, Away: 0}}}}
	store := newFakeStore()
	store.fixtures[1] = model.Fixture{ID: 1, Status: model.Status1H, FullTime: model.Score{Home: 2, Away: 1}}

	cfg := testConfig()
	cfg.ScoreDropConfirmWindow = time.Hour

	loop := New(provider, store, cfg)
	require.NoError(t, loop.refreshLiveFixtures(context.Background(), cfg))

	assert.Equal(t, 2, store.fixtures[1].FullTime.Home)
	assert.Equal(t, 1, store.fixtures[1].FullTime.Away, "a score regression must be held back until it is confirmed or rejected")
}
