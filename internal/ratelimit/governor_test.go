package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_WaitGrantsWithinBurst(t *testing.T) {
	g := New(WindowConfig{Name: "second", Limit: 5, Period: time.Second, Burst: 5})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(ctx))
	}
}

func TestGovernor_WaitStallsReturnsRateStalled(t *testing.T) {
	g := New(WindowConfig{Name: "second", Limit: 1, Period: time.Second, Burst: 1})
	ctx := context.Background()
	require.NoError(t, g.Wait(ctx))

	tight, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	err := g.Wait(tight)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate governor stalled")
}

func TestGovernor_AllowDoesNotBlock(t *testing.T) {
	g := New(WindowConfig{Name: "second", Limit: 1, Period: time.Second, Burst: 1})
	assert.True(t, g.Allow())
	assert.False(t, g.Allow())
}

func TestGovernor_MultipleWindowsAllGate(t *testing.T) {
	g := New(
		WindowConfig{Name: "second", Limit: 100, Period: time.Second, Burst: 100},
		WindowConfig{Name: "day", Limit: 1, Period: 24 * time.Hour, Burst: 1},
	)
	assert.True(t, g.Allow())
	assert.False(t, g.Allow())
}
