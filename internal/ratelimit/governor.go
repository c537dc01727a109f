// Package ratelimit implements the upstream client's global rate
// governor: a caller only proceeds once every one of several rolling
// windows has a spare permit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/albapepper/ingestd/internal/model"
)

// WindowConfig configures one of the governor's rolling windows.
type WindowConfig struct {
	Name   string
	Limit  int // max permits issued over Period
	Period time.Duration
	Burst  int
}

// Governor composes N independent token-bucket limiters, one per
// configured window (typically per-second, per-minute, per-day), and
// only grants a call once all of them have a permit. Every call goes
// through every window because the budget is a single shared upstream
// quota, not split by endpoint.
type Governor struct {
	windows []window
}

type window struct {
	name    string
	limiter *rate.Limiter
}

// New builds a Governor from window configs. A zero-value Limit or
// Period is treated as "unbounded" and skipped.
func New(cfgs ...WindowConfig) *Governor {
	g := &Governor{}
	for _, c := range cfgs {
		if c.Limit <= 0 || c.Period <= 0 {
			continue
		}
		perSecond := float64(c.Limit) / c.Period.Seconds()
		burst := c.Burst
		if burst <= 0 {
			burst = 1
		}
		g.windows = append(g.windows, window{
			name:    c.Name,
			limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		})
	}
	return g
}

// NewDefault builds the stock three-window governor: N per second, N
// per minute, N per day, each parameterized from
// config rather than hardcoded.
func NewDefault(perSecond, perMinute, perDay int) *Governor {
	return New(
		WindowConfig{Name: "second", Limit: perSecond, Period: time.Second, Burst: perSecond},
		WindowConfig{Name: "minute", Limit: perMinute, Period: time.Minute, Burst: perMinute},
		WindowConfig{Name: "day", Limit: perDay, Period: 24 * time.Hour, Burst: 1},
	)
}

// Wait blocks until every window has a permit, or returns *model.RateStalled
// if ctx is cancelled or its deadline passes first.
func (g *Governor) Wait(ctx context.Context) error {
	start := time.Now()
	for _, w := range g.windows {
		if err := w.limiter.Wait(ctx); err != nil {
			return &model.RateStalled{Window: w.name, Waited: time.Since(start).String()}
		}
	}
	return nil
}

// Allow reports whether every window currently has a permit, without
// blocking or consuming one unless all do.
func (g *Governor) Allow() bool {
	reserved := make([]*rate.Reservation, 0, len(g.windows))
	ok := true
	for _, w := range g.windows {
		r := w.limiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			ok = false
			reserved = append(reserved, r)
			continue
		}
		reserved = append(reserved, r)
	}
	if !ok {
		for _, r := range reserved {
			r.Cancel()
		}
		return false
	}
	return true
}

// Remaining reports each window's currently spare tokens, keyed by
// window name, for the health probe.
func (g *Governor) Remaining() map[string]float64 {
	out := make(map[string]float64, len(g.windows))
	for _, w := range g.windows {
		out[w.name] = w.limiter.Tokens()
	}
	return out
}

// String reports current capacity per window, for health/debug surfaces.
func (g *Governor) String() string {
	s := "governor["
	for i, w := range g.windows {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s:%.2f/%d", w.name, w.limiter.Tokens(), w.limiter.Burst())
	}
	return s + "]"
}
