package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/ingestd/internal/model"
)

func TestLoadOperatorConfigMissingFileFallsBackToDefaults(t *testing.T) {
	leagues, intervals, err := LoadOperatorConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, leagues)
	assert.Equal(t, DefaultIntervals(), intervals)
}

func TestLoadOperatorConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	body := "enabled_leagues: [39, 140]\nintervals:\n  odds: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	leagues, intervals, err := LoadOperatorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{39: true, 140: true}, leagues)
	assert.Equal(t, 2*time.Second, intervals[model.KindOdds])
	assert.Equal(t, DefaultIntervals()[model.KindEvent], intervals[model.KindEvent], "unconfigured kinds keep their default")
}

func TestLoadOperatorConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("intervals:\n  odds: not-a-duration\n"), 0o644))

	_, _, err := LoadOperatorConfig(path)
	assert.Error(t, err)
}
