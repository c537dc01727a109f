package model

import "fmt"

// RateStalled is returned by the rate governor when a caller waited past
// its deadline for a permit on any of the composed windows.
type RateStalled struct {
	Window string // "second", "minute", or "day"
	Waited string
}

func (e *RateStalled) Error() string {
	return fmt.Sprintf("rate governor stalled on %s window after %s", e.Window, e.Waited)
}

// UpstreamUnavailable means the provider never responded (network error,
// timeout, or exhausted retries on a 5xx) and the call should be retried
// on the next scheduled pull rather than immediately.
type UpstreamUnavailable struct {
	Op    string
	Cause error
}

func (e *UpstreamUnavailable) Error() string {
	return fmt.Sprintf("upstream unavailable during %s: %v", e.Op, e.Cause)
}

func (e *UpstreamUnavailable) Unwrap() error { return e.Cause }

// UpstreamRejected means the provider answered with a non-429, non-5xx
// error status; retrying without operator intervention would just repeat
// the rejection.
type UpstreamRejected struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamRejected) Error() string {
	return fmt.Sprintf("upstream rejected %s: status %d: %s", e.Op, e.Status, e.Body)
}

// UpstreamMalformed means the provider answered 2xx but the payload did
// not parse against any known shape.
type UpstreamMalformed struct {
	Op    string
	Cause error
}

func (e *UpstreamMalformed) Error() string {
	return fmt.Sprintf("upstream malformed response during %s: %v", e.Op, e.Cause)
}

func (e *UpstreamMalformed) Unwrap() error { return e.Cause }

// ValidationRejected means a tick or frame failed a storage-layer
// invariant (price <= 0, possession_pct outside [0,100], ...) and was
// dropped rather than written.
type ValidationRejected struct {
	Kind   string
	Reason string
}

func (e *ValidationRejected) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Kind, e.Reason)
}

// DispatchFailed means a scheduled job run could not be placed on its
// queue (queue full, worker pool saturated past the configured backlog).
type DispatchFailed struct {
	Job    string
	Reason string
}

func (e *DispatchFailed) Error() string {
	return fmt.Sprintf("dispatch failed for job %s: %s", e.Job, e.Reason)
}

// SubscriberSlow means a fan-out client's send buffer stayed full past
// the configured grace period and was disconnected.
type SubscriberSlow struct {
	Fixture int
	Topic   string
}

func (e *SubscriberSlow) Error() string {
	return fmt.Sprintf("subscriber on fixture %d topic %s disconnected: slow consumer", e.Fixture, e.Topic)
}
