// Package goalserve is the upstream client: a thin, typed capability
// layer over the provider's XML feed endpoints, gated by a shared rate
// governor and wrapped in retry/backoff for transient upstream failures.
package goalserve

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/ratelimit"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// Config holds the client's tunables, all sourced from internal/config.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	MaxBackoff     time.Duration

	// RateWaitTimeout bounds how long a call will wait for the shared
	// governor to free a permit before failing with RateStalled.
	RateWaitTimeout time.Duration
}

func defaults(c Config) Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.RateWaitTimeout == 0 {
		c.RateWaitTimeout = 10 * time.Second
	}
	return c
}

// Client is the capability-level upstream client. Every method acquires a
// governor permit before issuing its HTTP call.
type Client struct {
	cfg        Config
	httpClient *http.Client
	governor   *ratelimit.Governor
}

func NewClient(cfg Config, governor *ratelimit.Governor) *Client {
	cfg = defaults(cfg)
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		governor: governor,
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// fetchXML issues one governed, retried GET and decodes the response body
// as XML into out, retrying on 5xx and network errors with exponential
// backoff and honoring Retry-After on 429.
func (c *Client) fetchXML(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.endpoint(path, query)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.cfg.RetryDelay, c.cfg.MaxBackoff, attempt)
			telemetry.Warnf("goalserve: retrying %s (attempt %d) in %s: %v", path, attempt, delay, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		waitCtx, waitCancel := context.WithTimeout(ctx, c.cfg.RateWaitTimeout)
		waitStart := time.Now()
		err := c.governor.Wait(waitCtx)
		waitCancel()
		telemetry.Metrics.RateGovernorWait.Record(time.Since(waitStart))
		if err != nil {
			telemetry.Metrics.RateStalls.Inc()
			return err
		}

		status, body, retryAfter, err := c.doOnce(ctx, endpoint)
		if err != nil {
			lastErr = &model.UpstreamUnavailable{Op: path, Cause: err}
			continue
		}

		switch {
		case status == http.StatusTooManyRequests:
			wait := retryAfter
			backoff := backoffDelay(c.cfg.RetryDelay, c.cfg.MaxBackoff, attempt+1)
			if backoff > wait {
				wait = backoff
			}
			telemetry.Warnf("goalserve: 429 on %s, sleeping %s", path, wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			lastErr = &model.UpstreamUnavailable{Op: path, Cause: fmt.Errorf("rate limited by upstream")}
			continue
		case status >= 500:
			lastErr = &model.UpstreamUnavailable{Op: path, Cause: fmt.Errorf("status %d", status)}
			continue
		case status >= 400:
			return &model.UpstreamRejected{Op: path, Status: status, Body: truncate(body, 512)}
		}

		if err := xml.Unmarshal(body, out); err != nil {
			return &model.UpstreamMalformed{Op: path, Cause: err}
		}
		return nil
	}

	return lastErr
}

func (c *Client) doOnce(ctx context.Context, endpoint string) (status int, body []byte, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Upstream-Key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return resp.StatusCode, nil, 0, fmt.Errorf("gzip reader: %w", gzErr)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return resp.StatusCode, nil, 0, fmt.Errorf("read body: %w", err)
	}

	retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))

	// The shared secret travels as a header, never as part of the URL, so
	// logging the endpoint verbatim never leaks it.
	telemetry.Debugf("goalserve: GET %s -> %d (%s)", endpoint, resp.StatusCode, time.Since(start))
	return resp.StatusCode, data, retryAfter, nil
}

func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > ceiling {
		return ceiling
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
