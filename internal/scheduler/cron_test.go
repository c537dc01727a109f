package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron_EveryDayAtThreeAM(t *testing.T) {
	cs, err := parseCron("0 3 * * *")
	require.NoError(t, err)

	assert.True(t, cs.matches(time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)))
	assert.False(t, cs.matches(time.Date(2026, 7, 31, 3, 1, 0, 0, time.UTC)))
	assert.False(t, cs.matches(time.Date(2026, 7, 31, 4, 0, 0, 0, time.UTC)))
}

func TestParseCron_StepField(t *testing.T) {
	cs, err := parseCron("0 */6 * * *")
	require.NoError(t, err)

	assert.True(t, cs.matches(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)))
	assert.True(t, cs.matches(time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC)))
	assert.True(t, cs.matches(time.Date(2026, 7, 31, 18, 0, 0, 0, time.UTC)))
	assert.False(t, cs.matches(time.Date(2026, 7, 31, 7, 0, 0, 0, time.UTC)))
}

func TestParseCron_DayOfWeek(t *testing.T) {
	cs, err := parseCron("0 2 * * 0")
	require.NoError(t, err)

	sunday := time.Date(2026, 8, 2, 2, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sunday.Weekday())
	assert.True(t, cs.matches(sunday))

	monday := sunday.AddDate(0, 0, 1)
	assert.False(t, cs.matches(monday))
}

func TestParseCron_RejectsWrongFieldCount(t *testing.T) {
	_, err := parseCron("0 3 * *")
	assert.Error(t, err)
}

func TestParseCron_RejectsOutOfRangeValue(t *testing.T) {
	_, err := parseCron("60 3 * * *")
	assert.Error(t, err)
}
