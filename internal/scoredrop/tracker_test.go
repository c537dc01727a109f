package scoredrop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckDrop_AcceptsMonotonicIncrease(t *testing.T) {
	tr := &Tracker{}
	v := tr.CheckDrop(1, 0, 2, 0, 30*time.Second)
	assert.Equal(t, VerdictAccept, v)
	assert.False(t, tr.Pending())
}

func TestCheckDrop_NewDropThenRejectedByCorrection(t *testing.T) {
	tr := &Tracker{}

	v := tr.CheckDrop(2, 1, 1, 1, 30*time.Second)
	assert.Equal(t, VerdictNewDrop, v)
	assert.True(t, tr.Pending())

	v = tr.CheckDrop(2, 1, 2, 1, 30*time.Second)
	assert.Equal(t, VerdictRejected, v)
	assert.False(t, tr.Pending())
	assert.Equal(t, 1, tr.RejectedHome)
	assert.Equal(t, 1, tr.RejectedAway)
}

func TestCheckDrop_ConfirmedAfterWindowElapses(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := &Tracker{now: func() time.Time { return cur }}

	v := tr.CheckDrop(2, 1, 1, 1, 10*time.Second)
	assert.Equal(t, VerdictNewDrop, v)

	cur = cur.Add(5 * time.Second)
	v = tr.CheckDrop(2, 1, 1, 1, 10*time.Second)
	assert.Equal(t, VerdictPending, v)

	cur = cur.Add(10 * time.Second)
	v = tr.CheckDrop(2, 1, 1, 1, 10*time.Second)
	assert.Equal(t, VerdictConfirmed, v)
	assert.False(t, tr.Pending())
}

func TestCheckDrop_SameTotalRedistributionIsADrop(t *testing.T) {
	tr := &Tracker{}
	v := tr.CheckDrop(4, 1, 3, 2, 30*time.Second)
	assert.Equal(t, VerdictNewDrop, v)
}

func TestCheckDrop_DifferentPendingScoreResetsTimer(t *testing.T) {
	cur := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := &Tracker{now: func() time.Time { return cur }}

	tr.CheckDrop(2, 1, 1, 1, 10*time.Second)
	cur = cur.Add(8 * time.Second)
	v := tr.CheckDrop(2, 1, 0, 1, 10*time.Second)
	assert.Equal(t, VerdictPending, v)

	cur = cur.Add(8 * time.Second)
	v = tr.CheckDrop(2, 1, 0, 1, 10*time.Second)
	assert.Equal(t, VerdictPending, v)
}
