package goalserve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/ratelimit"
)

func testGovernor() *ratelimit.Governor {
	return ratelimit.New(ratelimit.WindowConfig{Name: "second", Limit: 1000, Period: time.Second, Burst: 1000})
}

func TestFixturesByDate_ParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<root><category><match id="1000" league_id="5" season="2026" round="1" venue_id="9" localteam_id="1" visitorteam_id="2" date="31.07.2026" time="18:00" status="NS" minute=""><localteam score="0"/><visitorteam score="0"/></match></category></root>`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"}, testGovernor())
	fixtures, err := c.FixturesByDate(context.Background(), time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	require.Len(t, fixtures, 1)
	require.Equal(t, 1000, fixtures[0].ID)
	require.Equal(t, model.StatusNS, fixtures[0].Status)
}

func TestFetchXML_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<root><category></category></root>`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "x", RetryDelay: time.Millisecond, MaxBackoff: 5 * time.Millisecond, RetryAttempts: 3}, testGovernor())
	fixtures, err := c.FixturesLive(context.Background())
	require.NoError(t, err)
	require.Empty(t, fixtures)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchXML_FailsImmediatelyOnNon429ClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "x", RetryDelay: time.Millisecond}, testGovernor())
	_, err := c.FixturesLive(context.Background())
	require.Error(t, err)
	var rejected *model.UpstreamRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, http.StatusUnauthorized, rejected.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchXML_MalformedBodyNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`not xml at all {{{`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "x", RetryDelay: time.Millisecond}, testGovernor())
	_, err := c.FixturesLive(context.Background())
	require.Error(t, err)
	var malformed *model.UpstreamMalformed
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchXML_RetryAfterHeaderHonored(t *testing.T) {
	var calls int32
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`<root><category></category></root>`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "x", RetryDelay: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, testGovernor())
	_, err := c.FixturesLive(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Less(t, time.Since(start), 2*time.Second)
}
