package scheduler

import (
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

// DefaultCatalog is the required job table: fixture poll, live trigger,
// prematch snapshot, frame maker, finalizer, weekly refresh, and
// retention maintenance, each on the cadence and queue their
// responsibilities call for.
func DefaultCatalog() []model.Job {
	return []model.Job{
		{
			Name:          "fixture_poll",
			Schedule:      model.Cron("0 */6 * * *"),
			Queue:         model.QueueFixtures,
			Priority:      5,
			Enabled:       true,
			SoftTimeLimit: 2 * time.Minute,
			HardTimeLimit: 5 * time.Minute,
			RetryCount:    2,
		},
		{
			Name:          "live_trigger",
			Schedule:      model.Every(30 * time.Second),
			Queue:         model.QueueLive,
			Priority:      10,
			Enabled:       true,
			SoftTimeLimit: 20 * time.Second,
			HardTimeLimit: 28 * time.Second,
			RetryCount:    0,
		},
		{
			Name:          "prematch_snapshot",
			Schedule:      model.Cron("0 */2 * * *"),
			Queue:         model.QueuePrematch,
			Priority:      4,
			Enabled:       true,
			SoftTimeLimit: 3 * time.Minute,
			HardTimeLimit: 8 * time.Minute,
			RetryCount:    1,
		},
		{
			Name:          "frame_maker",
			Schedule:      model.Every(60 * time.Second),
			Queue:         model.QueueFrames,
			Priority:      8,
			Enabled:       true,
			SoftTimeLimit: 45 * time.Second,
			HardTimeLimit: 55 * time.Second,
			RetryCount:    0,
		},
		{
			Name:          "finalizer",
			Schedule:      model.Every(5 * time.Minute),
			Queue:         model.QueueFinalizer,
			Priority:      3,
			Enabled:       true,
			SoftTimeLimit: 2 * time.Minute,
			HardTimeLimit: 4 * time.Minute,
			RetryCount:    1,
		},
		{
			Name:          "weekly_refresh",
			Schedule:      model.Cron("0 2 * * 0"),
			Queue:         model.QueueFixtures,
			Priority:      1,
			Enabled:       true,
			SoftTimeLimit: 10 * time.Minute,
			HardTimeLimit: 20 * time.Minute,
			RetryCount:    1,
		},
		{
			Name:          "retention_maintenance",
			Schedule:      model.Cron("0 3 * * *"),
			Queue:         model.QueueMaintenance,
			Priority:      1,
			Enabled:       true,
			SoftTimeLimit: 10 * time.Minute,
			HardTimeLimit: 30 * time.Minute,
			RetryCount:    0,
		},
	}
}
