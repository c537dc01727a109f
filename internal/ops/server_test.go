package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/ingestd/internal/model"
)

type fakeSched struct {
	jobs []model.Job
}

func (f *fakeSched) Catalog() []model.Job { return append([]model.Job(nil), f.jobs...) }

func (f *fakeSched) UpdateJob(name string, mutate func(*model.Job) error) error {
	for i := range f.jobs {
		if f.jobs[i].Name == name {
			return mutate(&f.jobs[i])
		}
	}
	return assertErr{"unknown job " + name}
}

func (f *fakeSched) QueueDepths() map[model.Queue]int {
	return map[model.Queue]int{model.QueueLive: 3}
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

type fakeRuns struct{}

func (fakeRuns) RecentRuns(jobName string, limit int) ([]model.JobRun, error) {
	return []model.JobRun{{ID: "r1", JobName: jobName, Status: model.RunSucceeded}}, nil
}

type fakeBudget struct{}

func (fakeBudget) Remaining() map[string]float64 {
	return map[string]float64{"second": 4.0, "minute": 120.0}
}

type fakeDB struct {
	pingErr error
	util    float64
}

func (f *fakeDB) HealthCheck(ctx context.Context) error { return f.pingErr }
func (f *fakeDB) Utilization() float64                  { return f.util }

func newTestServer(t *testing.T, db *fakeDB) (*Server, *fakeSched, string) {
	t.Helper()
	sched := &fakeSched{jobs: []model.Job{
		{Name: "live_trigger", Schedule: model.Every(30 * time.Second), Queue: model.QueueLive, Enabled: true},
		{Name: "fixture_poll", Schedule: model.Cron("0 */6 * * *"), Queue: model.QueueFixtures, Enabled: true},
	}}
	confPath := filepath.Join(t.TempDir(), "operator.yaml")
	return NewServer(sched, fakeRuns{}, fakeBudget{}, db, confPath), sched, confPath
}

func TestHealthz_OK(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeDB{util: 0.25})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0.25, body.DBPoolUtilization)
	assert.Equal(t, 3, body.QueueDepths["live"])
	assert.Equal(t, 4.0, body.RateBudget["second"])
}

func TestHealthz_DownWhenDBUnreachable(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeDB{pingErr: assertErr{"no route"}})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "down", body.Status)
}

func TestHealthz_DegradedOnHighPoolUtilization(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeDB{util: 0.95})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
}

func TestListJobs(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeDB{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []jobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "live_trigger", jobs[0].Name)
	assert.Equal(t, "30s", jobs[0].Spec)
	assert.Equal(t, "0 */6 * * *", jobs[1].Spec)
	assert.Equal(t, "SUCCEEDED", jobs[0].LastRunStatus)
}

func TestUpdateJob_DisableTakesEffect(t *testing.T) {
	srv, sched, _ := newTestServer(t, &fakeDB{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/jobs/live_trigger", strings.NewReader(`{"enabled": false}`))
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sched.jobs[0].Enabled)
}

func TestUpdateJob_RejectsConflictingSchedule(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeDB{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/jobs/live_trigger", strings.NewReader(`{"cron": "0 * * * *", "interval_seconds": 10}`))
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateJob_UnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeDB{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/jobs/nope", strings.NewReader(`{"enabled": true}`))
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLiveConfig_RoundTrip(t *testing.T) {
	srv, _, confPath := newTestServer(t, &fakeDB{})

	rec := httptest.NewRecorder()
	body := `{"enabled_leagues": [39, 140], "intervals": {"odds": "8s"}}`
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/config/live/", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	written, err := os.ReadFile(confPath)
	require.NoError(t, err)
	assert.Contains(t, string(written), "39")

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/live/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view liveConfigView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []int{39, 140}, view.EnabledLeagues)
	assert.Equal(t, "8s", view.Intervals["odds"])
}

func TestLiveConfig_RejectsBadInterval(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeDB{})

	rec := httptest.NewRecorder()
	body := `{"enabled_leagues": [], "intervals": {"odds": "soon"}}`
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/config/live/", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
