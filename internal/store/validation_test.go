package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/albapepper/ingestd/internal/model"
)

func ptr(f float64) *float64 { return &f }

func TestFilterValidOdds_DropsNonPositivePrice(t *testing.T) {
	batch := []model.OddsTick{
		{Fixture: 1, Price: 2.10},
		{Fixture: 1, Price: 0},
		{Fixture: 1, Price: -1.5},
		{Fixture: 1, Price: 1.01},
	}
	valid := filterValidOdds(batch)
	assert.Len(t, valid, 2)
	assert.Equal(t, 2.10, valid[0].Price)
	assert.Equal(t, 1.01, valid[1].Price)
}

func TestFilterValidStats_DropsOutOfRangePossession(t *testing.T) {
	batch := []model.StatTick{
		{Fixture: 1, Team: 1, PossessionPct: ptr(55.5)},
		{Fixture: 1, Team: 2, PossessionPct: ptr(-1)},
		{Fixture: 1, Team: 3, PossessionPct: ptr(101)},
		{Fixture: 1, Team: 4, PossessionPct: nil},
	}
	valid := filterValidStats(batch)
	assert.Len(t, valid, 2)
	assert.Equal(t, 55.5, *valid[0].PossessionPct)
	assert.Nil(t, valid[1].PossessionPct)
}
