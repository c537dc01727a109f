package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/ingestd/internal/model"
)

// Config is the process-wide static configuration, read once at startup.
// The hot-reloadable pieces (enabled leagues and per-kind pull intervals)
// live separately in OperatorConfig/LoadOperatorConfig, refreshed by the
// live-trigger runner without a restart.
type Config struct {
	// DB
	DBDSN         string
	DBMinConns    int32
	DBMaxConns    int32
	DBMaxConnLife time.Duration

	// BusDSN names the external broker the fan-out bridge would shard
	// topics across if ingestion were horizontally scaled. Empty in the
	// single-process
	// deployment this build targets, where the bridge's Postgres
	// LISTEN/NOTIFY outbox consumer and in-memory topics are sufficient.
	BusDSN string

	// Upstream client
	UpstreamKey     string
	UpstreamBaseURL string
	RequestTimeout  time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	MaxBackoff      time.Duration

	// Rate governor
	MaxRPS          int
	MaxRPM          int
	MaxRPD          int
	RateWaitTimeout time.Duration

	// Live ingestion loop
	TriggerInterval     time.Duration // read from TRIGGER_INTERVAL_SEC; no component consults it, the live_trigger cadence comes from the job catalog
	LiveWindow          time.Duration // read from LIVE_WINDOW_MIN; no component consults it, live eligibility comes from fixture status
	LiveConcurrency     int           // W_live worker pool size
	ConsecFailThreshold int           // K_consec_fail
	CooldownDuration    time.Duration // T_cooldown
	ScoreDropConfirm    time.Duration

	OperatorConfigPath string // hot-reloaded enabled-leagues + intervals

	// Operator surface
	OpsPort int

	// Fan-out bridge
	FanoutPort           int
	FanoutRingSize       int
	FanoutCatchupHorizon time.Duration
	FanoutSlowConsumer   time.Duration
	FanoutPollInterval   time.Duration

	// Shutdown
	DrainTimeout time.Duration // T_drain
	FatalTimeout time.Duration // T_fatal

	// jobstore is the scheduler's local run ledger (modernc.org/sqlite),
	// separate from the shared Postgres pool.
	JobStorePath string

	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBDSN:         envStr("DB_DSN", ""),
		DBMinConns:    int32(envInt("DB_MIN_CONNS", 2)),
		DBMaxConns:    int32(envInt("DB_MAX_CONNS", 20)),
		DBMaxConnLife: time.Duration(envInt("DB_MAX_CONN_LIFE_SEC", 3600)) * time.Second,

		BusDSN: envStr("BUS_DSN", ""),

		UpstreamKey:     envStr("UPSTREAM_KEY", ""),
		UpstreamBaseURL: envStr("UPSTREAM_BASE_URL", "https://www.goalserve.com"),
		RequestTimeout:  time.Duration(envInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,
		RetryAttempts:   envInt("RETRY_ATTEMPTS", 3),
		RetryDelay:      time.Duration(envInt("RETRY_DELAY_MS", 500)) * time.Millisecond,
		MaxBackoff:      time.Duration(envInt("MAX_BACKOFF_SEC", 10)) * time.Second,

		MaxRPS:          envInt("MAX_RPS", 5),
		MaxRPM:          envInt("MAX_RPM", 150),
		MaxRPD:          envInt("MAX_RPD", 50000),
		RateWaitTimeout: time.Duration(envInt("RATE_WAIT_TIMEOUT_SEC", 10)) * time.Second,

		TriggerInterval:     time.Duration(envInt("TRIGGER_INTERVAL_SEC", 30)) * time.Second,
		LiveWindow:          time.Duration(envInt("LIVE_WINDOW_MIN", 200)) * time.Minute,
		LiveConcurrency:     envInt("LIVE_CONCURRENCY", 5),
		ConsecFailThreshold: envInt("CONSEC_FAIL_THRESHOLD", 5),
		CooldownDuration:    time.Duration(envInt("COOLDOWN_MIN", 10)) * time.Minute,
		ScoreDropConfirm:    time.Duration(envInt("SCORE_DROP_CONFIRM_SEC", 30)) * time.Second,

		OperatorConfigPath: envStr("OPERATOR_CONFIG_PATH", "internal/config/operator.yaml"),

		OpsPort: envInt("OPS_PORT", 9101),

		FanoutPort:           envInt("FANOUT_PORT", 9100),
		FanoutRingSize:       envInt("FANOUT_RING_SIZE", 256),
		FanoutCatchupHorizon: time.Duration(envInt("FANOUT_CATCHUP_HORIZON_HOUR", 24)) * time.Hour,
		FanoutSlowConsumer:   time.Duration(envInt("FANOUT_SLOW_CONSUMER_SEC", 5)) * time.Second,
		FanoutPollInterval:   time.Duration(envInt("FANOUT_POLL_INTERVAL_MS", 500)) * time.Millisecond,

		DrainTimeout: time.Duration(envInt("DRAIN_TIMEOUT_SEC", 30)) * time.Second,
		FatalTimeout: time.Duration(envInt("FATAL_TIMEOUT_MIN", 5)) * time.Minute,

		JobStorePath: envStr("JOBSTORE_PATH", "data/jobstore.db"),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

// DefaultIntervals returns the per-kind pull interval defaults that seed
// OperatorConfig before any override file is read.
func DefaultIntervals() map[model.TickKind]time.Duration {
	return map[model.TickKind]time.Duration{
		model.KindOdds:  10 * time.Second,
		model.KindEvent: 5 * time.Second,
		model.KindStat:  15 * time.Second,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
