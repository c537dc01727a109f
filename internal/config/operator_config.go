package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/albapepper/ingestd/internal/model"
)

// OperatorConfig is the hot-reloadable half of configuration: the set of
// enabled leagues and the per-kind pull intervals the live ingestion
// loop consults on every trigger. A change to the backing file takes
// effect at the next trigger without restarting the process.
type OperatorConfig struct {
	// EnabledLeagues, empty means every league is in scope.
	EnabledLeagues []int `yaml:"enabled_leagues"`

	// Intervals overrides DefaultIntervals() per kind. A kind absent
	// here keeps its default.
	Intervals map[string]string `yaml:"intervals"`
}

// LoadOperatorConfig reads path (yaml) and resolves it against the
// built-in defaults. A missing file is not an error: the loop runs with
// every league enabled and the default intervals, the same way it would
// with an empty file.
func LoadOperatorConfig(path string) (EnabledLeagues map[int]bool, Intervals map[model.TickKind]time.Duration, err error) {
	Intervals = DefaultIntervals()
	EnabledLeagues = map[int]bool{}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return EnabledLeagues, Intervals, nil
		}
		return nil, nil, fmt.Errorf("read operator config: %w", readErr)
	}

	var oc OperatorConfig
	if err := yaml.Unmarshal(data, &oc); err != nil {
		return nil, nil, fmt.Errorf("parse operator config: %w", err)
	}

	for _, l := range oc.EnabledLeagues {
		EnabledLeagues[l] = true
	}

	for kindStr, raw := range oc.Intervals {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("operator config: interval %q for kind %q: %w", raw, kindStr, err)
		}
		Intervals[model.TickKind(kindStr)] = d
	}

	return EnabledLeagues, Intervals, nil
}
