// Package ops is the operator surface: list/update jobs, list/update the
// enabled-leagues and per-kind intervals the live loop hot-reloads, and
// a health probe reporting pool utilization, rate-budget remaining,
// per-queue depth, and ingestion-lag percentiles.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"

	"github.com/albapepper/ingestd/internal/config"
	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// SchedulerControl is the slice of the scheduler the operator surface
// drives.
type SchedulerControl interface {
	Catalog() []model.Job
	UpdateJob(name string, mutate func(*model.Job) error) error
	QueueDepths() map[model.Queue]int
}

// RunHistory exposes the job-run ledger's read side.
type RunHistory interface {
	RecentRuns(jobName string, limit int) ([]model.JobRun, error)
}

// RateBudget exposes the rate governor's remaining capacity.
type RateBudget interface {
	Remaining() map[string]float64
}

// DBHealth exposes the shared pool's reachability and utilization.
type DBHealth interface {
	HealthCheck(ctx context.Context) error
	Utilization() float64
}

// Server wires the operator endpoints to their backing components.
type Server struct {
	sched    SchedulerControl
	runs     RunHistory
	budget   RateBudget
	pool     DBHealth
	confPath string
}

func NewServer(sched SchedulerControl, runs RunHistory, budget RateBudget, pool DBHealth, operatorConfigPath string) *Server {
	return &Server{sched: sched, runs: runs, budget: budget, pool: pool, confPath: operatorConfigPath}
}

// Router builds the chi router for the operator surface.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Patch("/{name}", s.handleUpdateJob)
		r.Get("/{name}/runs", s.handleJobRuns)
	})

	r.Route("/config/live", func(r chi.Router) {
		r.Get("/", s.handleGetLiveConfig)
		r.Put("/", s.handlePutLiveConfig)
	})

	return r
}

// ListenAndServe starts the operator listener and blocks.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	telemetry.Infof("ops: server listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

type healthResponse struct {
	Status            string             `json:"status"`
	DBPoolUtilization float64            `json:"db_pool_utilization"`
	RateBudget        map[string]float64 `json:"rate_budget_remaining"`
	QueueDepths       map[string]int     `json:"queue_depths"`
	PullLatencyP50MS  int64              `json:"pull_latency_p50_ms"`
	PullLatencyP99MS  int64              `json:"pull_latency_p99_ms"`
	FramesLagSeconds  int64              `json:"frames_lag_seconds"`
	Counters          map[string]int64   `json:"counters"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	if err := s.pool.HealthCheck(ctx); err != nil {
		status = "down"
		httpStatus = http.StatusServiceUnavailable
	} else if s.pool.Utilization() > 0.8 || telemetry.Metrics.FramesLagSeconds.Value() > 300 {
		status = "degraded"
	}

	depths := map[string]int{}
	for q, d := range s.sched.QueueDepths() {
		depths[string(q)] = d
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:            status,
		DBPoolUtilization: s.pool.Utilization(),
		RateBudget:        s.budget.Remaining(),
		QueueDepths:       depths,
		PullLatencyP50MS:  telemetry.Metrics.PullLatency.P50().Milliseconds(),
		PullLatencyP99MS:  telemetry.Metrics.PullLatency.P99().Milliseconds(),
		FramesLagSeconds:  telemetry.Metrics.FramesLagSeconds.Value(),
		Counters: map[string]int64{
			"pulls_issued":           telemetry.Metrics.PullsIssued.Value(),
			"pull_failures":          telemetry.Metrics.PullFailures.Value(),
			"rate_stalls":            telemetry.Metrics.RateStalls.Value(),
			"validation_dropped":     telemetry.Metrics.ValidationDropped.Value(),
			"late_ticks_dropped":     telemetry.Metrics.LateTicksDropped.Value(),
			"dispatcher_drops":       telemetry.Metrics.DispatcherDrops.Value(),
			"catchup_misses":         telemetry.Metrics.CatchupMisses.Value(),
			"subscriber_disconnects": telemetry.Metrics.SubscriberDisconnects.Value(),
		},
	})
}

type jobView struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Spec          string `json:"spec"`
	Queue         string `json:"queue"`
	Priority      int    `json:"priority"`
	Enabled       bool   `json:"enabled"`
	SoftLimitSec  int    `json:"soft_limit_sec"`
	HardLimitSec  int    `json:"hard_limit_sec"`
	RetryCount    int    `json:"retry_count"`
	LastRunStatus string `json:"last_run_status,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.sched.Catalog()
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		v := jobView{
			Name:         j.Name,
			Kind:         string(j.Schedule.Kind),
			Queue:        string(j.Queue),
			Priority:     j.Priority,
			Enabled:      j.Enabled,
			SoftLimitSec: int(j.SoftTimeLimit.Seconds()),
			HardLimitSec: int(j.HardTimeLimit.Seconds()),
			RetryCount:   j.RetryCount,
		}
		switch j.Schedule.Kind {
		case model.ScheduleCron:
			v.Spec = j.Schedule.Expr
		case model.ScheduleInterval:
			v.Spec = j.Schedule.Every.String()
		}
		if runs, err := s.runs.RecentRuns(j.Name, 1); err == nil && len(runs) > 0 {
			v.LastRunStatus = string(runs[0].Status)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type jobPatch struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	Cron            *string `json:"cron,omitempty"`
	IntervalSeconds *int    `json:"interval_seconds,omitempty"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var patch jobPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	if patch.Cron != nil && patch.IntervalSeconds != nil {
		writeError(w, http.StatusBadRequest, "cron and interval_seconds are mutually exclusive")
		return
	}

	err := s.sched.UpdateJob(name, func(j *model.Job) error {
		if patch.Enabled != nil {
			j.Enabled = *patch.Enabled
		}
		if patch.Cron != nil {
			j.Schedule = model.Cron(*patch.Cron)
		}
		if patch.IntervalSeconds != nil {
			if *patch.IntervalSeconds <= 0 {
				return fmt.Errorf("interval_seconds must be positive")
			}
			j.Schedule = model.Every(time.Duration(*patch.IntervalSeconds) * time.Second)
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	telemetry.Infof("ops: job %s updated", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.RecentRuns(chi.URLParam(r, "name"), 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type liveConfigView struct {
	EnabledLeagues []int             `yaml:"enabled_leagues" json:"enabled_leagues"`
	Intervals      map[string]string `yaml:"intervals" json:"intervals"`
}

func (s *Server) handleGetLiveConfig(w http.ResponseWriter, _ *http.Request) {
	leagues, intervals, err := config.LoadOperatorConfig(s.confPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	view := liveConfigView{EnabledLeagues: make([]int, 0, len(leagues)), Intervals: map[string]string{}}
	for l := range leagues {
		view.EnabledLeagues = append(view.EnabledLeagues, l)
	}
	sort.Ints(view.EnabledLeagues)
	for kind, d := range intervals {
		view.Intervals[string(kind)] = d.String()
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePutLiveConfig rewrites the operator config file. The live loop
// re-reads it on the next trigger, so the update lands without a
// restart.
func (s *Server) handlePutLiveConfig(w http.ResponseWriter, r *http.Request) {
	var view liveConfigView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	for kind, raw := range view.Intervals {
		if _, err := time.ParseDuration(raw); err != nil {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("interval %q for kind %q: %v", raw, kind, err))
			return
		}
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(s.confPath, data, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.Infof("ops: operator config rewritten (%d leagues)", len(view.EnabledLeagues))
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.Warnf("ops: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
