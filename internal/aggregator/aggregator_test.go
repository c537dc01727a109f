package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/ingestd/internal/model"
)

type fakeStore struct {
	fixtures    map[int]model.Fixture
	odds        map[int][]model.OddsTick
	events      map[int][]model.EventTick
	upserted    []model.Frame
	activityIDs []int
}

func (f *fakeStore) FixturesWithActivity(ctx context.Context, from, to time.Time) ([]int, error) {
	return f.activityIDs, nil
}

func (f *fakeStore) OddsTicksInWindow(ctx context.Context, fixtureID int, from, to time.Time) ([]model.OddsTick, error) {
	var out []model.OddsTick
	for _, t := range f.odds[fixtureID] {
		if !t.Instant.Before(from) && t.Instant.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) EventTicksInWindow(ctx context.Context, fixtureID int, from, to time.Time) ([]model.EventTick, error) {
	var out []model.EventTick
	for _, e := range f.events[fixtureID] {
		if !e.Instant.Before(from) && e.Instant.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) FixtureByID(ctx context.Context, id int) (model.Fixture, error) {
	return f.fixtures[id], nil
}

func (f *fakeStore) UpsertFrame(ctx context.Context, fr model.Frame) error {
	f.upserted = append(f.upserted, fr)
	return nil
}

// Three 1X2 odds ticks at {2.10, 3.40, 3.20}, a later repricing of "1"
// at 2.00, and one Goal event, all in a single minute window.
func TestMaterializeWindow_AveragesDeltasAndEventCounts(t *testing.T) {
	t0 := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)

	fs := &fakeStore{
		activityIDs: []int{1000},
		fixtures: map[int]model.Fixture{
			1000: {ID: 1000, HomeTeamID: 1, AwayTeamID: 2, Status: model.Status1H, Elapsed: 12, FullTime: model.Score{Home: 1, Away: 0}},
		},
		odds: map[int][]model.OddsTick{
			1000: {
				{Fixture: 1000, Market: Market1X2, Outcome: "1", Price: 2.10, Instant: t0.Add(1 * time.Second)},
				{Fixture: 1000, Market: Market1X2, Outcome: "X", Price: 3.40, Instant: t0.Add(2 * time.Second)},
				{Fixture: 1000, Market: Market1X2, Outcome: "2", Price: 3.20, Instant: t0.Add(3 * time.Second)},
				{Fixture: 1000, Market: Market1X2, Outcome: "1", Price: 2.00, Instant: t0.Add(40 * time.Second)},
			},
		},
		events: map[int][]model.EventTick{
			1000: {
				{Fixture: 1000, Type: "Goal", Instant: t0.Add(10 * time.Second)},
			},
		},
	}

	agg := New(fs)
	require.NoError(t, agg.MaterializeWindow(context.Background(), t0))
	require.Len(t, fs.upserted, 1)

	f := fs.upserted[0]
	assert.Equal(t, t0, f.BucketStart)
	assert.InDelta(t, 2.05, *f.AvgHomeOdd, 1e-9)
	assert.InDelta(t, 3.40, *f.AvgDrawOdd, 1e-9)
	assert.InDelta(t, 3.20, *f.AvgAwayOdd, 1e-9)
	assert.InDelta(t, -0.10, *f.HomeOddDelta, 1e-9)
	assert.Equal(t, 1, f.GoalsInBucket)
	assert.NotNil(t, f.HomeImpliedProb)
}

func TestMaterializeWindow_IdempotentOnReRun(t *testing.T) {
	t0 := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		activityIDs: []int{1000},
		fixtures:    map[int]model.Fixture{1000: {ID: 1000, Status: model.Status1H}},
		odds: map[int][]model.OddsTick{
			1000: {{Fixture: 1000, Market: Market1X2, Outcome: "1", Price: 2.0, Instant: t0.Add(time.Second)}},
		},
	}

	agg := New(fs)
	require.NoError(t, agg.MaterializeWindow(context.Background(), t0))
	require.NoError(t, agg.MaterializeWindow(context.Background(), t0))
	require.Len(t, fs.upserted, 2)
	assert.Equal(t, fs.upserted[0], fs.upserted[1])
}

func TestMaterializeWindow_LateTicksDoNotReopenOlderWindow(t *testing.T) {
	t0 := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	fs := &fakeStore{
		activityIDs: []int{1000},
		fixtures:    map[int]model.Fixture{1000: {ID: 1000, Status: model.Status1H}},
		odds: map[int][]model.OddsTick{
			1000: {{Fixture: 1000, Market: Market1X2, Outcome: "1", Price: 2.0, Instant: t1.Add(time.Second)}},
		},
	}

	agg := New(fs)
	require.NoError(t, agg.MaterializeWindow(context.Background(), t1))
	require.Len(t, fs.upserted, 1)

	require.NoError(t, agg.MaterializeWindow(context.Background(), t0))
	assert.Len(t, fs.upserted, 1, "materializing an older window after a newer one must not reopen it")
}
